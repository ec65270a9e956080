package config

import (
	"os"
	"testing"
)

func clearAEAEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if len(kv) >= 4 && kv[:4] == "AEA_" {
			k, _, _ := cutEnv(kv)
			os.Unsetenv(k)
		}
	}
}

func cutEnv(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return kv, "", false
}

func TestLoadRequiresAgentName(t *testing.T) {
	clearAEAEnv(t)
	os.Setenv("AEA_PRIVATE_KEY", "deadbeef")
	os.Setenv("AEA_LEDGER_ID", "fetchai")
	defer clearAEAEnv(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing AEA_AGENT_NAME")
	}
}

func TestLoadRequiresPrivateKey(t *testing.T) {
	clearAEAEnv(t)
	os.Setenv("AEA_AGENT_NAME", "my_agent")
	defer clearAEAEnv(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing private key")
	}
}

func TestLoadParsesEntryURIsAndPoR(t *testing.T) {
	clearAEAEnv(t)
	os.Setenv("AEA_AGENT_NAME", "my_agent")
	os.Setenv("AEA_PRIVATE_KEY", "deadbeef")
	os.Setenv("AEA_LEDGER_ID", "fetchai")
	os.Setenv("AEA_P2P_ENTRY_URIS", "1.2.3.4:9000, 5.6.7.8:9000")
	os.Setenv("AEA_P2P_POR_ADDRESS", "fetch1abc")
	os.Setenv("AEA_P2P_CFG_REGISTRATION_DELAY", "2.5")
	defer clearAEAEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.EntryURIs) != 2 || cfg.EntryURIs[0] != "1.2.3.4:9000" || cfg.EntryURIs[1] != "5.6.7.8:9000" {
		t.Fatalf("unexpected entry uris: %v", cfg.EntryURIs)
	}
	if cfg.PoR.Address != "fetch1abc" {
		t.Fatalf("unexpected PoR address: %q", cfg.PoR.Address)
	}
	if cfg.RegistrationDelay.Seconds() != 2.5 {
		t.Fatalf("unexpected registration delay: %v", cfg.RegistrationDelay)
	}
}

func TestLoadCollectsPrivateKeyPaths(t *testing.T) {
	clearAEAEnv(t)
	os.Setenv("AEA_AGENT_NAME", "my_agent")
	os.Setenv("AEA_PRIVATE_KEY_PATH_FETCHAI", "/tmp/fetchai.key")
	defer clearAEAEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PrivateKeyPaths["fetchai"] != "/tmp/fetchai.key" {
		t.Fatalf("unexpected private key paths: %v", cfg.PrivateKeyPaths)
	}
}
