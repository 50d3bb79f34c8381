package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// readBytecode accepts either a raw hex file or a compiler artifact with a
// top-level "bytecode" field.
func readBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bytecode: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "{") {
		var artifact struct {
			Bytecode string `json:"bytecode"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, fmt.Errorf("parse artifact %s: %w", path, err)
		}
		text = artifact.Bytecode
	}
	if text == "" {
		return nil, errors.New("bytecode is empty")
	}
	if !strings.HasPrefix(text, "0x") {
		text = "0x" + text
	}
	code, err := hexutil.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode: %w", err)
	}
	return code, nil
}
