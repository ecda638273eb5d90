package kafkax

import (
	"context"
	"testing"
)

func TestConfigured(t *testing.T) {
	cases := map[string]bool{
		"":                         false,
		" , ,":                     false,
		"kafka:9092":               true,
		" , kafka-1:9092,kafka-2 ": true,
	}
	for raw, want := range cases {
		if got := Configured(raw); got != want {
			t.Fatalf("Configured(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestReadyCheckWithoutBrokers(t *testing.T) {
	// Callers skip the check entirely when Configured is false; run on its
	// own it must report the missing configuration.
	if err := ReadyCheck("", "booking.appointment.booked.v1")(context.Background()); err == nil {
		t.Fatal("expected an error without brokers")
	}
}
