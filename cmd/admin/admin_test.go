package main

import "testing"

func TestObserverURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8080":   "ws://127.0.0.1:8080/admin/v1/observer/ws",
		"https://arena.example/ ": "wss://arena.example/admin/v1/observer/ws",
		"ws://localhost:9000":     "ws://localhost:9000/admin/v1/observer/ws",
	}
	for in, want := range cases {
		if got := observerURL(in); got != want {
			t.Fatalf("observerURL(%q)=%q want=%q", in, got, want)
		}
	}
}
