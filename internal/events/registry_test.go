package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// fieldErrors extracts a *model.ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []model.FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *model.ValidationError, got %T (%v)", err, err)
	}
	return ve.Errors
}

func hasFieldError(errs []model.FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func sampleEvents(t *testing.T) []*model.Event {
	t.Helper()
	var out []*model.Event
	for _, build := range []func() (*model.Event, error){
		func() (*model.Event, error) {
			return NewLockerStateChangedEvent(LockerStateChanged{
				LockerID: "locker-1", KioskID: "kiosk-1",
				OldState: model.LockerClosed, NewState: model.LockerOpen, Reason: "staff override",
			}, "zone_a")
		},
		func() (*model.Event, error) {
			return NewHelpRequestedEvent(HelpRequested{
				ID: "help-1", KioskID: "kiosk-1", LockerNo: 4, Category: model.HelpPaymentIssue, Note: "card declined",
			}, "")
		},
		func() (*model.Event, error) {
			return NewHelpStatusUpdatedEvent(HelpStatusUpdated{
				ID: "help-1", Status: model.HelpAssigned, PreviousStatus: model.HelpOpen, AssignedTo: "ayse",
			}, "")
		},
		func() (*model.Event, error) {
			return NewCommandAppliedEvent(CommandApplied{
				CommandID: "cmd-1", KioskID: "kiosk-1", CommandType: model.CommandOpen,
				LockerIDs: []int{1, 2}, Success: true,
			}, "kiosk-1")
		},
	} {
		e, err := build()
		if err != nil {
			t.Fatalf("building sample event: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	for _, e := range sampleEvents(t) {
		data, err := Serialize(e)
		if err != nil {
			t.Fatalf("Serialize(%s): %v", e.Type, err)
		}
		got, err := Deserialize(data)
		if err != nil {
			t.Fatalf("Deserialize(%s): %v", e.Type, err)
		}
		if got.ID != e.ID || got.Type != e.Type || got.Namespace != e.Namespace ||
			got.Room != e.Room || got.Version != e.Version {
			t.Errorf("%s: envelope mismatch: got %+v, want %+v", e.Type, got, e)
		}
		if !got.Timestamp.Equal(e.Timestamp) {
			t.Errorf("%s: timestamp = %v, want %v", e.Type, got.Timestamp, e.Timestamp)
		}
		if !bytes.Equal(got.Data, e.Data) {
			t.Errorf("%s: data = %s, want %s", e.Type, got.Data, e.Data)
		}

		again, err := Serialize(got)
		if err != nil {
			t.Fatalf("re-Serialize: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Errorf("%s: second serialization differs:\n%s\n%s", e.Type, again, data)
		}
	}
}

func TestConstructors_DefaultNamespaces(t *testing.T) {
	want := map[model.EventType]string{
		model.EventLockerStateChanged: model.NamespaceLockers,
		model.EventHelpRequested:      model.NamespaceHelp,
		model.EventHelpStatusUpdated:  model.NamespaceHelp,
		model.EventCommandApplied:     model.NamespaceEvents,
	}
	for _, e := range sampleEvents(t) {
		if e.Namespace != want[e.Type] {
			t.Errorf("%s namespace = %q, want %q", e.Type, e.Namespace, want[e.Type])
		}
		if e.Version != model.EventVersion {
			t.Errorf("%s version = %q", e.Type, e.Version)
		}
	}
}

func TestNewLockerStateChangedEvent_LockerData(t *testing.T) {
	e, err := NewLockerStateChangedEvent(LockerStateChanged{
		LockerID: "locker-1", OldState: model.LockerClosed, NewState: model.LockerOpen,
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d LockerStateChanged
	if err := e.DecodeData(&d); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if d.LockerID != "locker-1" || d.NewState != model.LockerOpen {
		t.Errorf("decoded %+v", d)
	}
}

func TestConstructors_RejectOutOfDomainValues(t *testing.T) {
	for _, tc := range []struct {
		name  string
		build func() (*model.Event, error)
		field string
	}{
		{"locker new state", func() (*model.Event, error) {
			return NewLockerStateChangedEvent(LockerStateChanged{LockerID: "l", OldState: model.LockerClosed, NewState: "ajar"}, "")
		}, "newState"},
		{"locker old state", func() (*model.Event, error) {
			return NewLockerStateChangedEvent(LockerStateChanged{LockerID: "l", OldState: "", NewState: model.LockerOpen}, "")
		}, "oldState"},
		{"locker id missing", func() (*model.Event, error) {
			return NewLockerStateChangedEvent(LockerStateChanged{OldState: model.LockerClosed, NewState: model.LockerOpen}, "")
		}, "lockerId"},
		{"help category", func() (*model.Event, error) {
			return NewHelpRequestedEvent(HelpRequested{ID: "h", KioskID: "k", Category: "lost_key"}, "")
		}, "category"},
		{"help status", func() (*model.Event, error) {
			return NewHelpStatusUpdatedEvent(HelpStatusUpdated{ID: "h", Status: "closed"}, "")
		}, "status"},
		{"help assigned without agent", func() (*model.Event, error) {
			return NewHelpStatusUpdatedEvent(HelpStatusUpdated{ID: "h", Status: model.HelpAssigned}, "")
		}, "assignedTo"},
		{"command type", func() (*model.Event, error) {
			return NewCommandAppliedEvent(CommandApplied{CommandID: "c", KioskID: "k", CommandType: "explode", Success: true}, "")
		}, "commandType"},
		{"failed command without error", func() (*model.Event, error) {
			return NewCommandAppliedEvent(CommandApplied{CommandID: "c", KioskID: "k", CommandType: model.CommandOpen}, "")
		}, "error"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e, err := tc.build()
			if e != nil {
				t.Errorf("expected nil event on validation failure, got %+v", e)
			}
			if errs := fieldErrors(t, err); !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on field %q, got %v", tc.field, errs)
			}
		})
	}
}

func TestNewEvent_FromRawPayload(t *testing.T) {
	data := json.RawMessage(`{ "lockerId": "locker-9",  "oldState": "open", "newState": "closed" }`)
	e, err := NewEvent(model.EventLockerStateChanged, data, "", "zone_b")
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if e.Namespace != model.NamespaceLockers {
		t.Errorf("namespace = %q, want default", e.Namespace)
	}
	if string(e.Data) != `{"lockerId":"locker-9","oldState":"open","newState":"closed"}` {
		t.Errorf("data not compacted: %s", e.Data)
	}

	e, err = NewEvent(model.EventLockerStateChanged, data, "/ws/events", "")
	if err != nil {
		t.Fatalf("NewEvent with namespace: %v", err)
	}
	if e.Namespace != "/ws/events" {
		t.Errorf("namespace override ignored: %q", e.Namespace)
	}
}

func TestNewEvent_Rejections(t *testing.T) {
	if errs := fieldErrors(t, errOnly(NewEvent("door_slammed", json.RawMessage(`{}`), "", ""))); !hasFieldError(errs, "type") {
		t.Errorf("expected type error, got %v", errs)
	}
	if errs := fieldErrors(t, errOnly(NewEvent(model.EventHelpRequested, nil, "", ""))); !hasFieldError(errs, "data") {
		t.Errorf("expected data error, got %v", errs)
	}
	if errs := fieldErrors(t, errOnly(NewEvent(model.EventHelpRequested, json.RawMessage(`[1,2]`), "", ""))); !hasFieldError(errs, "data") {
		t.Errorf("expected data error for non-object payload, got %v", errs)
	}
	if errs := fieldErrors(t, errOnly(NewEvent(model.EventLockerStateChanged,
		json.RawMessage(`{"lockerId":"l","oldState":"open","newState":"closed"}`), "lockers", ""))); !hasFieldError(errs, "namespace") {
		t.Errorf("expected namespace error, got %v", errs)
	}
}

func TestDeserialize_RejectsInvalidEnvelope(t *testing.T) {
	for _, tc := range []struct {
		name  string
		json  string
		field string
	}{
		{"bad json", `{`, "event"},
		{"missing id", `{"type":"help_requested","data":{},"timestamp":"2026-01-01T00:00:00Z","namespace":"/ws/help","version":"1.0.0"}`, "id"},
		{"bad enum in data", `{"id":"evt-1","type":"help_status_updated","data":{"id":"h","status":"gone"},"timestamp":"2026-01-01T00:00:00Z","namespace":"/ws/help","version":"1.0.0"}`, "status"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Deserialize([]byte(tc.json))
			if errs := fieldErrors(t, err); !hasFieldError(errs, tc.field) {
				t.Errorf("expected error on %q, got %v", tc.field, errs)
			}
		})
	}
}

func errOnly(_ *model.Event, err error) error { return err }
