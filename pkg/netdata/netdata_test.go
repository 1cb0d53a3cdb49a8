package netdata

import (
	"bytes"
	"errors"
	"testing"
)

func TestAddServiceAndSnapshot(t *testing.T) {
	local := NewLocal()

	err := local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0xd2, 0x04}, true)
	if err != nil {
		t.Fatalf("AddService failed: %v", err)
	}

	services := local.Services()
	if len(services) != 1 {
		t.Fatalf("got %d services, want 1", len(services))
	}

	s := services[0]
	if s.EnterpriseNumber != ThreadEnterpriseNumber {
		t.Errorf("EnterpriseNumber = %d, want %d", s.EnterpriseNumber, ThreadEnterpriseNumber)
	}
	if !bytes.Equal(s.ServiceData, []byte{0x5d}) {
		t.Errorf("ServiceData = %x, want 5d", s.ServiceData)
	}
	if !bytes.Equal(s.ServerData, []byte{0xd2, 0x04}) {
		t.Errorf("ServerData = %x, want d204", s.ServerData)
	}
	if !s.Stable {
		t.Error("Stable = false, want true")
	}
	if s.ServiceID != 0 {
		t.Errorf("ServiceID = %d, want 0", s.ServiceID)
	}
}

func TestAddServiceReplacesMatchingEntry(t *testing.T) {
	local := NewLocal()

	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0x00, 0x35}, true)
	err := local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0xd2, 0x04}, true)
	if err != nil {
		t.Fatalf("replacing AddService failed: %v", err)
	}

	services := local.Services()
	if len(services) != 1 {
		t.Fatalf("got %d services after replace, want 1", len(services))
	}
	if !bytes.Equal(services[0].ServerData, []byte{0xd2, 0x04}) {
		t.Errorf("ServerData = %x, want d204", services[0].ServerData)
	}
}

func TestRemoveService(t *testing.T) {
	local := NewLocal()

	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0x00, 0x35}, true)

	if err := local.RemoveService(ThreadEnterpriseNumber, []byte{0x5d}); err != nil {
		t.Fatalf("RemoveService failed: %v", err)
	}
	if len(local.Services()) != 0 {
		t.Error("service still present after remove")
	}

	err := local.RemoveService(ThreadEnterpriseNumber, []byte{0x5d})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServiceIDAssignment(t *testing.T) {
	local := NewLocal()

	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x01}, nil, false)
	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x02}, nil, false)
	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x03}, nil, false)

	// Remove the middle entry; its ID should be reused next.
	_ = local.RemoveService(ThreadEnterpriseNumber, []byte{0x02})
	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x04}, nil, false)

	ids := map[byte]uint8{}
	for _, s := range local.Services() {
		ids[s.ServiceData[0]] = s.ServiceID
	}

	if ids[0x01] != 0 || ids[0x03] != 2 {
		t.Errorf("existing IDs changed: %v", ids)
	}
	if ids[0x04] != 1 {
		t.Errorf("reclaimed ID = %d, want 1", ids[0x04])
	}
}

func TestTooManyServices(t *testing.T) {
	local := NewLocal()

	for i := 0; i < 16; i++ {
		if err := local.AddService(ThreadEnterpriseNumber, []byte{byte(i)}, nil, false); err != nil {
			t.Fatalf("AddService %d failed: %v", i, err)
		}
	}

	err := local.AddService(ThreadEnterpriseNumber, []byte{0xff}, nil, false)
	if !errors.Is(err, ErrTooManyServices) {
		t.Errorf("expected ErrTooManyServices, got %v", err)
	}
}

func TestOnChangedFires(t *testing.T) {
	local := NewLocal()

	calls := 0
	local.OnChanged(func() { calls++ })

	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0x00, 0x35}, true)
	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0xd2, 0x04}, true)
	_ = local.RemoveService(ThreadEnterpriseNumber, []byte{0x5d})

	if calls != 3 {
		t.Errorf("OnChanged fired %d times, want 3", calls)
	}

	// A failed remove must not fire the callback.
	_ = local.RemoveService(ThreadEnterpriseNumber, []byte{0x5d})
	if calls != 3 {
		t.Errorf("OnChanged fired on failed remove")
	}
}

func TestBytesThreadEnterprise(t *testing.T) {
	local := NewLocal()
	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0xd2, 0x04}, true)

	got := local.Bytes()
	want := []byte{
		0x0b, 0x09, // Service TLV (type 5, stable), length 9
		0x80,       // T bit + service ID 0
		0x01, 0x5d, // service data
		0x0d, 0x04, // Server TLV (type 6, stable), length 4
		0xff, 0xfe, // server16 (default)
		0xd2, 0x04, // server data (port 53764)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes = %x, want %x", got, want)
	}
}

func TestBytesOtherEnterprise(t *testing.T) {
	local := NewLocal()
	local.SetServerAddress(0x1c00)
	_ = local.AddService(9, []byte{0xaa, 0xbb}, []byte{0x01}, false)

	got := local.Bytes()
	want := []byte{
		0x0a, 0x0d, // Service TLV (type 5, not stable), length 13
		0x00,                   // service ID 0, T bit clear
		0x00, 0x00, 0x00, 0x09, // enterprise number 9
		0x02, 0xaa, 0xbb, // service data
		0x0c, 0x03, // Server TLV (type 6, not stable), length 3
		0x1c, 0x00, // server16
		0x01, // server data
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes = %x, want %x", got, want)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	local := NewLocal()
	_ = local.AddService(ThreadEnterpriseNumber, []byte{0x5d}, []byte{0x00, 0x35}, true)

	snap := local.Services()
	snap[0].ServerData[0] = 0xff

	if !bytes.Equal(local.Services()[0].ServerData, []byte{0x00, 0x35}) {
		t.Error("mutating a snapshot changed the registry")
	}
}
