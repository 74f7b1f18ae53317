package authfd

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func TestAskSendsPromptAndReadsReply(t *testing.T) {
	relaySide, peerSide := net.Pipe()
	defer relaySide.Close()
	defer peerSide.Close()

	conv := New(relaySide)

	done := make(chan string, 1)
	go func() {
		answer, err := conv.Ask(Prompt{Prompt: "password", Echo: false})
		if err != nil {
			t.Errorf("Ask error = %v", err)
		}
		done <- answer
	}()

	buf := make([]byte, 4096)
	peerSide.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := peerSide.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	var p Prompt
	if err := json.Unmarshal(buf[:n], &p); err != nil {
		t.Fatalf("unmarshal prompt: %v", err)
	}
	if p.Prompt != "password" {
		t.Fatalf("prompt = %q, want \"password\"", p.Prompt)
	}

	if _, err := peerSide.Write([]byte("hunter2\x00\x00")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case answer := <-done:
		if answer != "hunter2" {
			t.Errorf("answer = %q, want \"hunter2\" (NUL trimmed)", answer)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Ask to return")
	}
}

func TestSendVerdict(t *testing.T) {
	relaySide, peerSide := net.Pipe()
	defer relaySide.Close()
	defer peerSide.Close()

	conv := New(relaySide)

	done := make(chan error, 1)
	go func() {
		done <- conv.SendVerdict(Verdict{
			User:              "admin",
			AuthMethodResults: map[string]string{"password": "succeeded"},
		})
	}()

	buf := make([]byte, 4096)
	peerSide.SetReadDeadline(time.Now().Add(5 * time.Second))
	n, err := peerSide.Read(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	var v Verdict
	if err := json.Unmarshal(buf[:n], &v); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if v.User != "admin" {
		t.Errorf("User = %q, want \"admin\"", v.User)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendVerdict error = %v", err)
	}
}
