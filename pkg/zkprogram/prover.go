package zkprogram

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

// Backend is the in-process Groth16/BN254 prover for OperatorCircuit,
// grounded on the teacher's pkg/crypto/bls_zkp.BLSZKProver: a compiled
// constraint system plus a proving/verification keypair, guarded by a
// mutex because Setup is a one-time, expensive operation shared across
// concurrent Prove/Verify calls. It implements pkg/external.Prover so
// pkg/dispute and pkg/agent depend only on that interface, never on gnark
// directly.
type Backend struct {
	mu sync.RWMutex

	cs          constraint.ConstraintSystem
	pk          groth16.ProvingKey
	vk          groth16.VerifyingKey
	initialized bool
}

// NewBackend returns an uninitialized prover; call Setup (or Initialize)
// before Prove/Verify.
func NewBackend() *Backend {
	return &Backend{}
}

// Setup implements pkg/external.Prover. elf is unused: unlike an SP1-style
// zkVM, this backend's "program" is the fixed OperatorCircuit Go type
// compiled in this package, not an ELF blob supplied at runtime.
func (b *Backend) Setup(elf []byte) (provingKey, verifyingKey []byte, err error) {
	if err := b.Initialize(); err != nil {
		return nil, nil, err
	}
	return b.exportKeys()
}

// Initialize compiles OperatorCircuit to R1CS and runs the Groth16 trusted
// setup, same shape as BLSZKProver.Initialize.
func (b *Backend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	var circuit OperatorCircuit
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return fmt.Errorf("zkprogram: compile circuit: %w", err)
	}
	b.cs = cs

	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("zkprogram: groth16 setup: %w", err)
	}
	b.pk = pk
	b.vk = vk
	b.initialized = true
	return nil
}

// InitializeFromKeys loads a previously-saved proving/verification keypair
// and constraint system instead of running Setup again.
func (b *Backend) InitializeFromKeys(csPath, pkPath, vkPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	csFile, err := os.Open(csPath)
	if err != nil {
		return fmt.Errorf("zkprogram: open constraint system: %w", err)
	}
	defer csFile.Close()
	b.cs = groth16.NewCS(ecc.BN254)
	if _, err := b.cs.ReadFrom(csFile); err != nil {
		return fmt.Errorf("zkprogram: read constraint system: %w", err)
	}

	pkFile, err := os.Open(pkPath)
	if err != nil {
		return fmt.Errorf("zkprogram: open proving key: %w", err)
	}
	defer pkFile.Close()
	b.pk = groth16.NewProvingKey(ecc.BN254)
	if _, err := b.pk.ReadFrom(pkFile); err != nil {
		return fmt.Errorf("zkprogram: read proving key: %w", err)
	}

	vkFile, err := os.Open(vkPath)
	if err != nil {
		return fmt.Errorf("zkprogram: open verification key: %w", err)
	}
	defer vkFile.Close()
	b.vk = groth16.NewVerifyingKey(ecc.BN254)
	if _, err := b.vk.ReadFrom(vkFile); err != nil {
		return fmt.Errorf("zkprogram: read verification key: %w", err)
	}

	b.initialized = true
	return nil
}

// SaveKeys persists the compiled constraint system and keypair to disk, so
// a later process can skip Setup and call InitializeFromKeys instead.
func (b *Backend) SaveKeys(csPath, pkPath, vkPath string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return errors.New("zkprogram: prover not initialized")
	}

	csFile, err := os.Create(csPath)
	if err != nil {
		return fmt.Errorf("zkprogram: create constraint system file: %w", err)
	}
	defer csFile.Close()
	if _, err := b.cs.WriteTo(csFile); err != nil {
		return fmt.Errorf("zkprogram: write constraint system: %w", err)
	}

	pkFile, err := os.Create(pkPath)
	if err != nil {
		return fmt.Errorf("zkprogram: create proving key file: %w", err)
	}
	defer pkFile.Close()
	if _, err := b.pk.WriteTo(pkFile); err != nil {
		return fmt.Errorf("zkprogram: write proving key: %w", err)
	}

	vkFile, err := os.Create(vkPath)
	if err != nil {
		return fmt.Errorf("zkprogram: create verifying key file: %w", err)
	}
	defer vkFile.Close()
	if _, err := b.vk.WriteTo(vkFile); err != nil {
		return fmt.Errorf("zkprogram: write verifying key: %w", err)
	}
	return nil
}

func (b *Backend) exportKeys() (pkBytes, vkBytes []byte, err error) {
	var pkBuf, vkBuf countingBuffer
	if _, err := b.pk.WriteTo(&pkBuf); err != nil {
		return nil, nil, fmt.Errorf("zkprogram: serialize proving key: %w", err)
	}
	if _, err := b.vk.WriteTo(&vkBuf); err != nil {
		return nil, nil, fmt.Errorf("zkprogram: serialize verifying key: %w", err)
	}
	return pkBuf.data, vkBuf.data, nil
}

// Prove implements pkg/external.Prover. stdin carries a gob-style encoded
// Request (see witness.go); this keeps the interface's byte-oriented shape
// while the circuit itself stays statically typed. elf is ignored, same as
// in Setup.
func (b *Backend) Prove(elf, stdin []byte) (proof, publicValues []byte, err error) {
	req, err := DecodeRequest(stdin)
	if err != nil {
		return nil, nil, fmt.Errorf("zkprogram: decode request: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return nil, nil, errors.New("zkprogram: prover not initialized")
	}

	assignment, err := BuildAssignment(*req)
	if err != nil {
		return nil, nil, err
	}

	w, err := frontend.NewWitness(assignment, Curve)
	if err != nil {
		return nil, nil, fmt.Errorf("zkprogram: build witness: %w", err)
	}

	gproof, err := groth16.Prove(b.cs, b.pk, w)
	if err != nil {
		return nil, nil, fmt.Errorf("zkprogram: prove: %w", err)
	}

	var proofBuf countingBuffer
	if _, err := gproof.WriteTo(&proofBuf); err != nil {
		return nil, nil, fmt.Errorf("zkprogram: serialize proof: %w", err)
	}

	pv := EncodePublicValues(req.ModelRoot, req.LeafIndex, req.CommittedInputHash, req.CommittedOutputHash)
	return proofBuf.data, pv, nil
}

// Verify implements pkg/external.Prover. It is the interactive-bisection
// analogue of BLSZKProver.VerifyProofLocally: reconstruct the public
// witness from publicValues and run groth16.Verify.
func (b *Backend) Verify(verifyingKey, proof, publicValues []byte) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return false, errors.New("zkprogram: prover not initialized")
	}

	pv, err := DecodePublicValues(publicValues)
	if err != nil {
		return false, fmt.Errorf("zkprogram: decode public values: %w", err)
	}

	assignment := PublicAssignment(Request{
		ModelRoot:           pv.ClaimedRoot,
		LeafIndex:           int(pv.Idx),
		CommittedInputHash:  pv.ClaimedInputHash,
		CommittedOutputHash: pv.ClaimedOutputHash,
	})
	publicWitness, err := frontend.NewWitness(assignment, Curve, frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("zkprogram: build public witness: %w", err)
	}

	gproof := groth16.NewProof(ecc.BN254)
	if _, err := gproof.ReadFrom(newByteReader(proof)); err != nil {
		return false, fmt.Errorf("zkprogram: parse proof: %w", err)
	}

	if err := groth16.Verify(gproof, b.vk, publicWitness); err != nil {
		return false, nil // invalid proof is a false verdict, not an error
	}
	return true, nil
}
