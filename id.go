package workflow

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IDKind is the entity type encoded in an id prefix.
type IDKind string

const (
	KindWorkflow IDKind = "wf"
	KindVersion  IDKind = "wfv"
	KindRun      IDKind = "run"
	KindRunNode  IDKind = "rnd"
)

const idHexLen = 32

// NewID returns a random id of the form "<kind>_<32 hex chars>".
func NewID(kind IDKind) string {
	u := uuid.New()
	return string(kind) + "_" + hex.EncodeToString(u[:])
}

// CheckID verifies that id carries the prefix for kind followed by the
// random hex part.
func CheckID(kind IDKind, id string) error {
	rest, ok := strings.CutPrefix(id, string(kind)+"_")
	if !ok {
		return fmt.Errorf("%w: %q is not a %s id", ErrInvalidID, id, kind)
	}
	if len(rest) != idHexLen {
		return fmt.Errorf("%w: %q has malformed suffix", ErrInvalidID, id)
	}
	if _, err := hex.DecodeString(rest); err != nil {
		return fmt.Errorf("%w: %q has malformed suffix", ErrInvalidID, id)
	}
	return nil
}
