//go:build !integration

package a2a

import (
	"testing"
)

func TestAgentCardAdvertisesCapabilities(t *testing.T) {
	card := testCard()

	caps := card.Capabilities
	if !caps.Streaming || !caps.PushNotifications || !caps.StateTransitionHistory {
		t.Fatalf("expected streaming, push and history capabilities, got %+v", caps)
	}

	exts := make(map[string]CardExtension, len(caps.Extensions))
	for _, ext := range caps.Extensions {
		exts[ext.URI] = ext
	}
	for _, uri := range []string{"ostrid-negotiation", "a2a-x402", "ap2-mandates", "a2a-rest"} {
		if _, ok := exts[uri]; !ok {
			t.Errorf("missing extension %s", uri)
		}
	}
	if !exts["ostrid-negotiation"].Required || !exts["ap2-mandates"].Required {
		t.Error("negotiation and mandate extensions must be required")
	}
	if exts["a2a-x402"].Required || exts["a2a-rest"].Required {
		t.Error("payment and REST fallback extensions must be optional")
	}

	if chains, ok := exts["a2a-x402"].Params["supportedChains"].([]string); !ok || len(chains) != 1 || chains[0] != "base" {
		t.Errorf("expected settlement chain from config, got %v", exts["a2a-x402"].Params["supportedChains"])
	}
	if modes, ok := exts["ostrid-negotiation"].Params["modes"].([]string); !ok || len(modes) != 2 {
		t.Errorf("expected both negotiation modes, got %v", exts["ostrid-negotiation"].Params["modes"])
	}

	if len(card.Endpoints) == 0 {
		t.Error("card advertises no endpoints")
	}
	if len(card.Validation) != 3 {
		t.Errorf("expected all validation methods, got %v", card.Validation)
	}
}
