package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestReadSeed(t *testing.T) {
	path := writeSeed(t, `
organizationId: 0b6a1f4e-3c1d-4f0a-9a57-6d2f3f1c2b10
agents:
  - key: lead
    name: Lead
    oel: 0.05
  - name: Crystalline Silica
    oel: 0.025
`)
	seed, orgID, err := readSeed(path)
	if err != nil {
		t.Fatalf("readSeed: %v", err)
	}
	if orgID.String() != "0b6a1f4e-3c1d-4f0a-9a57-6d2f3f1c2b10" {
		t.Fatalf("unexpected organization %s", orgID)
	}
	if len(seed.Agents) != 2 || seed.Agents[1].OEL != 0.025 {
		t.Fatalf("unexpected agents %+v", seed.Agents)
	}
}

func TestReadSeedRejectsInvalidRows(t *testing.T) {
	cases := map[string]string{
		"missing org":  "agents:\n  - key: lead\n    oel: 1\n",
		"zero oel":     "organizationId: 0b6a1f4e-3c1d-4f0a-9a57-6d2f3f1c2b10\nagents:\n  - key: lead\n    oel: 0\n",
		"no key/name":  "organizationId: 0b6a1f4e-3c1d-4f0a-9a57-6d2f3f1c2b10\nagents:\n  - oel: 1\n",
		"invalid yaml": "organizationId: [",
	}
	for name, body := range cases {
		if _, _, err := readSeed(writeSeed(t, body)); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}
