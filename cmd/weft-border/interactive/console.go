// Package interactive provides the interactive console for the border
// router.
package interactive

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/weft-protocol/weft-go/pkg/service"
)

// Console handles interactive mode for weft-border.
type Console struct {
	svc *service.RouterService
	rl  *readline.Instance
}

// New creates the console and subscribes it to service events.
func New(svc *service.RouterService) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "weft> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Console{svc: svc, rl: rl}
	svc.OnEvent(c.handleEvent)
	return c, nil
}

// Run starts the interactive command loop. It returns when the user
// quits or ctx ends; cancel is invoked on quit so the caller's
// shutdown path runs.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "status", "st":
			c.cmdStatus()

		case "hosts", "h":
			c.cmdHosts()

		case "services", "s":
			c.cmdServices()

		case "leases", "l":
			c.cmdLeases(args)

		case "netdata", "nd":
			c.cmdNetData()

		case "enable":
			c.svc.SetRegistrationEnabled(true)
			fmt.Fprintln(c.rl.Stdout(), "Registration enabled")

		case "disable":
			c.svc.SetRegistrationEnabled(false)
			fmt.Fprintln(c.rl.Stdout(), "Registration disabled (updates draw REFUSED)")

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Border Router Commands:
  Registry:
    hosts                       - List registered hosts
    services                    - List registered service instances
    leases [min max kmin kmax]  - Show or set the granted lease ranges (seconds)
    enable / disable            - Accept or refuse registration updates

  Router:
    status                      - Show service state and bound ports
    netdata                     - Show the published network data TLVs

  General:
    help                        - Show this help
    quit                        - Exit`)
}

func (c *Console) handleEvent(ev service.Event) {
	switch ev.Type {
	case service.EventStarted, service.EventStopped:
		fmt.Fprintf(c.rl.Stdout(), "<< %s\n", ev.Type)
	case service.EventQueryServed:
		fmt.Fprintf(c.rl.Stdout(), "<< %s %s rcode=%d\n", ev.Type, ev.Name, ev.Rcode)
	default:
		if ev.Reason != "" {
			fmt.Fprintf(c.rl.Stdout(), "<< %s %s (%s)\n", ev.Type, ev.Name, ev.Reason)
		} else {
			fmt.Fprintf(c.rl.Stdout(), "<< %s %s\n", ev.Type, ev.Name)
		}
	}
}

func (c *Console) cmdStatus() {
	out := c.rl.Stdout()
	reg := c.svc.Registry()

	fmt.Fprintf(out, "State:        %s\n", c.svc.State())
	fmt.Fprintf(out, "Domain:       %s\n", c.svc.Domain())
	fmt.Fprintf(out, "Registration: :%d (enabled=%v)\n", c.svc.SRPPort(), reg.Enabled())
	fmt.Fprintf(out, "Discovery:    :%d\n", c.svc.DNSSDPort())
	fmt.Fprintf(out, "Hosts:        %d\n", len(reg.Hosts()))
}

func (c *Console) cmdHosts() {
	out := c.rl.Stdout()
	hosts := c.svc.Registry().Hosts()
	if len(hosts) == 0 {
		fmt.Fprintln(out, "No hosts registered")
		return
	}

	for _, h := range hosts {
		fmt.Fprintf(out, "%s\n", h.FullName())
		for _, addr := range h.Addresses() {
			fmt.Fprintf(out, "    addr   %s\n", addr)
		}
		if h.IsDeleted() {
			fmt.Fprintf(out, "    state  deleted (key held %s)\n",
				untilText(h.KeyLeaseExpireTime()))
		} else {
			fmt.Fprintf(out, "    lease  %ds (expires %s), key %ds\n",
				h.Lease(), untilText(h.LeaseExpireTime()), h.KeyLease())
		}
		for _, svc := range h.Services() {
			fmt.Fprintf(out, "    svc    %s\n", svc.FullName())
		}
	}
}

func (c *Console) cmdServices() {
	out := c.rl.Stdout()
	count := 0

	for _, h := range c.svc.Registry().Hosts() {
		for _, svc := range h.Services() {
			if svc.IsDeleted() {
				continue
			}
			count++
			fmt.Fprintf(out, "%s\n", svc.FullName())
			fmt.Fprintf(out, "    target %s port %d prio %d weight %d\n",
				h.FullName(), svc.Port(), svc.Priority(), svc.Weight())
			for _, txt := range txtStrings(svc.TxtData()) {
				fmt.Fprintf(out, "    txt    %q\n", txt)
			}
		}
	}
	if count == 0 {
		fmt.Fprintln(out, "No services registered")
	}
}

func (c *Console) cmdLeases(args []string) {
	out := c.rl.Stdout()

	if len(args) == 0 {
		minLease, maxLease, minKey, maxKey := c.svc.Registry().LeaseRange()
		fmt.Fprintf(out, "Lease range:     %d - %d seconds\n", minLease, maxLease)
		fmt.Fprintf(out, "Key lease range: %d - %d seconds\n", minKey, maxKey)
		return
	}
	if len(args) != 4 {
		fmt.Fprintln(out, "Usage: leases [<min> <max> <key-min> <key-max>]")
		return
	}

	vals := make([]uint32, 4)
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			fmt.Fprintf(out, "Bad value %q: %v\n", arg, err)
			return
		}
		vals[i] = uint32(v)
	}
	if err := c.svc.Registry().SetLeaseRange(vals[0], vals[1], vals[2], vals[3]); err != nil {
		fmt.Fprintf(out, "Rejected: %v\n", err)
		return
	}
	fmt.Fprintln(out, "Lease ranges updated")
}

func (c *Console) cmdNetData() {
	out := c.rl.Stdout()
	nd := c.svc.NetData()

	for _, svc := range nd.Services() {
		fmt.Fprintf(out, "Service %d: enterprise %d data %s server %s stable=%v\n",
			svc.ServiceID, svc.EnterpriseNumber,
			hex.EncodeToString(svc.ServiceData),
			hex.EncodeToString(svc.ServerData), svc.Stable)
	}
	raw := nd.Bytes()
	if len(raw) == 0 {
		fmt.Fprintln(out, "No network data published")
		return
	}
	fmt.Fprintf(out, "TLVs: %s\n", hex.EncodeToString(raw))
}

// untilText renders a deadline as a rounded remaining duration.
func untilText(deadline time.Time) string {
	left := time.Until(deadline)
	if left < 0 {
		return "now"
	}
	return "in " + left.Round(time.Second).String()
}

// txtStrings splits raw TXT rdata into its length-prefixed strings.
func txtStrings(data []byte) []string {
	var out []string
	for len(data) > 0 {
		n := int(data[0])
		data = data[1:]
		if n > len(data) {
			n = len(data)
		}
		out = append(out, string(data[:n]))
		data = data[n:]
	}
	return out
}
