package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	ok := Envelope{V: Version, Type: TypeLockAcquired, TS: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name string
		env  Envelope
	}{
		{"missing version", Envelope{Type: TypeHello}},
		{"wrong version", Envelope{V: "v2", Type: TypeHello}},
		{"missing type", Envelope{V: Version}},
		{"unknown type", Envelope{V: Version, Type: "lock_stolen"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.env.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvelopeValidateAcceptsControlTypes(t *testing.T) {
	for _, typ := range []string{TypeHello, TypeHelloAck, TypeSubscribe, TypeSubscribed, TypeUnsubscribe} {
		if err := (Envelope{V: Version, Type: typ}).Validate(); err != nil {
			t.Errorf("type %q rejected: %v", typ, err)
		}
	}
}
