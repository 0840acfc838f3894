package main

import (
	"log"
	"net/http"
	"os"

	"meetly/client/internal/backendtest"
	"meetly/client/internal/models"
)

// devserver runs the in-memory backend stand-in so the client can be
// exercised locally without the real service.
func main() {
	addr := os.Getenv("DEVSERVER_ADDR")
	if addr == "" {
		addr = ":3000"
	}

	srv := backendtest.New()
	srv.SeedUser(models.User{Name: "Dev User", City: "Berlin", Username: "dev"})

	log.Printf("devserver listening on %s", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatalf("devserver: %v", err)
	}
}
