package proofsys

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint/solver"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"
	"github.com/kysee/mixpool/mixer/types"
	"github.com/rs/zerolog"
)

type plonkKeys struct {
	pk plonk.ProvingKey
	vk plonk.VerifyingKey
}

// plonkScheme is the PLONK backend: universal setup, scs compilation,
// larger proofs but no per-circuit ceremony.
type plonkScheme struct {
	log zerolog.Logger
}

func NewPlonk(log zerolog.Logger) Scheme {
	return &plonkScheme{log: log}
}

func (s *plonkScheme) ID() SchemeID { return Plonk }

func (s *plonkScheme) Setup(circuit frontend.Circuit, circuitID string) (*Artifacts, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("failed to compile circuit %q: %w", circuitID, err)
	}

	// TODO: load an SRS from a public ceremony transcript instead of
	// generating one locally.
	srs, srsLagrange, err := unsafekzg.NewSRS(ccs)
	if err != nil {
		return nil, fmt.Errorf("srs generation for %q: %w", circuitID, err)
	}
	pk, vk, err := plonk.Setup(ccs, srs, srsLagrange)
	if err != nil {
		return nil, fmt.Errorf("plonk setup for %q: %w", circuitID, err)
	}
	s.log.Info().Str("circuit", circuitID).
		Int("constraints", ccs.GetNbConstraints()).
		Msg("plonk setup complete")
	return &Artifacts{
		Scheme:    Plonk,
		CircuitID: circuitID,
		ccs:       ccs,
		plk:       &plonkKeys{pk: pk, vk: vk},
	}, nil
}

func (s *plonkScheme) Prove(art *Artifacts, assignment frontend.Circuit) (*Envelope, error) {
	if art.Scheme != Plonk {
		return nil, fmt.Errorf("%w: artifacts are %s, backend is plonk",
			types.ErrSchemeMismatch, art.Scheme)
	}

	wtn, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}
	proof, err := plonk.Prove(art.ccs, art.plk.pk, wtn,
		backend.WithSolverOptions(solver.WithLogger(s.log)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &Envelope{Scheme: Plonk, CircuitID: art.CircuitID, ProofBytes: buf.Bytes()}, nil
}

func (s *plonkScheme) Verify(art *Artifacts, env *Envelope, public frontend.Circuit) error {
	if err := checkSetup(Plonk, art, env); err != nil {
		return err
	}

	proof := plonk.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(env.ProofBytes)); err != nil {
		return fmt.Errorf("%w: undecodable proof: %v", types.ErrProofInvalid, err)
	}
	pubWtn, err := frontend.NewWitness(public, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrWitnessInvalid, err)
	}
	if err := plonk.Verify(proof, art.plk.vk, pubWtn); err != nil {
		return fmt.Errorf("%w: %v", types.ErrProofInvalid, err)
	}
	return nil
}
