package errmap

import "testing"

func TestMessage(t *testing.T) {
	if got := Message(6018); got != "exchange is paused" {
		t.Errorf("Message(6018) = %q", got)
	}
	if got := Message(6122); got != "oracle stale for amm" {
		t.Errorf("Message(6122) = %q", got)
	}
	if got := Message(9999); got != "protocol error 9999" {
		t.Errorf("unknown code fallback = %q", got)
	}
}

func TestKnown(t *testing.T) {
	if !Known(6003) {
		t.Error("6003 should be known")
	}
	if Known(6500) {
		t.Error("6500 should not be known")
	}
}

func TestExtractCodeHex(t *testing.T) {
	// 0x1783 = 6019
	text := `Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1783`
	code, ok := ExtractCode(text)
	if !ok || code != 6019 {
		t.Errorf("ExtractCode = %d, %v; want 6019, true", code, ok)
	}
}

func TestExtractCodeJSON(t *testing.T) {
	text := `{"InstructionError":[0,{"Custom": 6003}]}`
	code, ok := ExtractCode(text)
	if !ok || code != 6003 {
		t.Errorf("ExtractCode = %d, %v; want 6003, true", code, ok)
	}
}

func TestExtractCodeRejectsRuntimeCodes(t *testing.T) {
	// runtime errors sit below the program's custom error base
	if _, ok := ExtractCode("custom program error: 0x1"); ok {
		t.Error("runtime hex code should not extract")
	}
	if _, ok := ExtractCode(`{"Custom": 1}`); ok {
		t.Error("runtime json code should not extract")
	}
	if _, ok := ExtractCode("connection refused"); ok {
		t.Error("plain text should not extract")
	}
}

func TestTranslate(t *testing.T) {
	if got := Translate("custom program error: 0x1782"); got != "exchange is paused" {
		t.Errorf("Translate = %q", got)
	}
	if got := Translate("rpc timeout"); got != "rpc timeout" {
		t.Errorf("Translate passthrough = %q", got)
	}
}
