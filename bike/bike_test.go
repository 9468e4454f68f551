package bike

import "testing"

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusAvailable, StatusReserved, StatusActive, StatusMaintenance} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Status("parked").Valid() {
		t.Errorf("expected unknown status to be invalid")
	}
}

func TestStatusMarshalJSON(t *testing.T) {
	b, err := StatusReserved.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `"reserved"` {
		t.Errorf("expected \"reserved\", got %s", b)
	}
}
