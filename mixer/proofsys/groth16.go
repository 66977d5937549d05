package proofsys

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint/solver"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/kysee/mixpool/mixer/types"
	"github.com/rs/zerolog"
)

type groth16Keys struct {
	pk groth16.ProvingKey
	vk groth16.VerifyingKey
}

// groth16Scheme is the Groth16 backend: per-circuit trusted setup, r1cs
// compilation, smallest proofs and fastest verification.
type groth16Scheme struct {
	log zerolog.Logger
}

func NewGroth16(log zerolog.Logger) Scheme {
	return &groth16Scheme{log: log}
}

func (s *groth16Scheme) ID() SchemeID { return Groth16 }

func (s *groth16Scheme) Setup(circuit frontend.Circuit, circuitID string) (*Artifacts, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit %q: %w", circuitID, err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup for %q: %w", circuitID, err)
	}
	s.log.Info().Str("circuit", circuitID).
		Int("constraints", ccs.GetNbConstraints()).
		Msg("groth16 setup complete")
	return &Artifacts{
		Scheme:    Groth16,
		CircuitID: circuitID,
		ccs:       ccs,
		g16:       &groth16Keys{pk: pk, vk: vk},
	}, nil
}

func (s *groth16Scheme) Prove(art *Artifacts, assignment frontend.Circuit) (*Envelope, error) {
	if art.Scheme != Groth16 {
		return nil, fmt.Errorf("%w: artifacts are %s, backend is groth16",
			types.ErrSchemeMismatch, art.Scheme)
	}

	wtn, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}
	proof, err := groth16.Prove(art.ccs, art.g16.pk, wtn,
		backend.WithSolverOptions(solver.WithLogger(s.log)))
	if err != nil {
		// an unsatisfiable witness, not a broken setup: caller may fix
		// its input and retry
		return nil, fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &Envelope{Scheme: Groth16, CircuitID: art.CircuitID, ProofBytes: buf.Bytes()}, nil
}

func (s *groth16Scheme) Verify(art *Artifacts, env *Envelope, public frontend.Circuit) error {
	if err := checkSetup(Groth16, art, env); err != nil {
		return err
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(env.ProofBytes)); err != nil {
		return fmt.Errorf("%w: undecodable proof: %v", types.ErrProofInvalid, err)
	}
	pubWtn, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}
	if err := groth16.Verify(proof, art.g16.vk, pubWtn); err != nil {
		return fmt.Errorf("%w: %v", types.ErrProofInvalid, err)
	}
	return nil
}
