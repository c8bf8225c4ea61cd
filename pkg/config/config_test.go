package config

import "testing"

func TestValidate_RequiresDatabaseURL(t *testing.T) {
	c := &Config{ChallengeWindow: 1, ResponseWindow: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when DatabaseURL is empty")
	}
	c.DatabaseURL = "postgres://localhost/x"
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/x")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.ListenAddr == "" {
		t.Fatal("ListenAddr default missing")
	}
}
