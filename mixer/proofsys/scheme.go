// Package proofsys wraps the gnark proving backends behind one interface
// so a pool can select Groth16 or PLONK at deployment time. Artifacts from
// one setup are never interchangeable with another: every proof envelope
// names its scheme and circuit, and a mismatch is a configuration error
// rejected before any cryptographic work.
package proofsys

import (
	"fmt"

	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/kysee/mixpool/mixer/types"
	"github.com/rs/zerolog"
)

type SchemeID byte

const (
	Groth16 SchemeID = iota + 1
	Plonk
)

func (id SchemeID) String() string {
	switch id {
	case Groth16:
		return "groth16"
	case Plonk:
		return "plonk"
	default:
		return fmt.Sprintf("scheme(%d)", byte(id))
	}
}

// SchemeByName resolves a configuration string to a SchemeID.
func SchemeByName(name string) (SchemeID, error) {
	switch name {
	case "groth16":
		return Groth16, nil
	case "plonk":
		return Plonk, nil
	default:
		return 0, fmt.Errorf("unknown proving scheme %q", name)
	}
}

// New constructs the backend for a SchemeID.
func New(id SchemeID, log zerolog.Logger) (Scheme, error) {
	switch id {
	case Groth16:
		return NewGroth16(log), nil
	case Plonk:
		return NewPlonk(log), nil
	default:
		return nil, fmt.Errorf("unknown proving scheme %s", id)
	}
}

// Artifacts holds the outcome of one setup: the compiled constraint system
// and the proving/verifying key pair, tagged with the scheme and circuit
// they belong to.
type Artifacts struct {
	Scheme    SchemeID
	CircuitID string

	ccs constraint.ConstraintSystem

	// exactly one pair is populated, matching Scheme
	g16 *groth16Keys
	plk *plonkKeys
}

// Envelope is a serialized proof plus the setup fingerprint it was
// produced under. Immutable; verifying it repeatedly yields the same
// result.
type Envelope struct {
	Scheme     SchemeID
	CircuitID  string
	ProofBytes []byte
}

// Scheme is one proving backend. Setup is a deployment-time operation;
// Prove is CPU-bound and safe to run concurrently across callers; Verify
// is side-effect free.
type Scheme interface {
	ID() SchemeID
	Setup(circuit frontend.Circuit, circuitID string) (*Artifacts, error)
	Prove(art *Artifacts, assignment frontend.Circuit) (*Envelope, error)
	Verify(art *Artifacts, env *Envelope, public frontend.Circuit) error
}

// checkSetup rejects any scheme or circuit mismatch between an envelope
// and the artifacts it is being verified against.
func checkSetup(id SchemeID, art *Artifacts, env *Envelope) error {
	if art.Scheme != id {
		return fmt.Errorf("%w: artifacts are %s, backend is %s",
			types.ErrSchemeMismatch, art.Scheme, id)
	}
	if env.Scheme != art.Scheme {
		return fmt.Errorf("%w: proof is %s, setup is %s",
			types.ErrSchemeMismatch, env.Scheme, art.Scheme)
	}
	if env.CircuitID != art.CircuitID {
		return fmt.Errorf("%w: proof circuit %q, setup circuit %q",
			types.ErrSchemeMismatch, env.CircuitID, art.CircuitID)
	}
	return nil
}
