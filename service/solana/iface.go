package solana

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ProgramInterface is a versioned schema naming a program's instructions and
// the accounts/arguments each one expects. The client resolves this before
// building any instruction.
type ProgramInterface struct {
	Version      string                 `json:"version"`
	Name         string                 `json:"name"`
	Instructions []InterfaceInstruction `json:"instructions"`
}

// InterfaceInstruction describes one named instruction.
type InterfaceInstruction struct {
	Name     string             `json:"name"`
	Accounts []InterfaceAccount `json:"accounts"`
	Args     []InterfaceArg     `json:"args"`
}

// InterfaceAccount names an account the instruction acts on and whether it
// must be writable or a signer.
type InterfaceAccount struct {
	Name     string `json:"name"`
	IsMut    bool   `json:"isMut"`
	IsSigner bool   `json:"isSigner"`
}

// InterfaceArg is a typed instruction argument. Type is kept raw because the
// schema allows both simple type names ("u64") and composite descriptors.
type InterfaceArg struct {
	Name string          `json:"name"`
	Type json.RawMessage `json:"type"`
}

// ParseInterface decodes an interface description from its JSON form.
func ParseInterface(data []byte) (*ProgramInterface, error) {
	var iface ProgramInterface
	if err := json.Unmarshal(data, &iface); err != nil {
		return nil, fmt.Errorf("failed to parse interface description: %w", err)
	}
	if len(iface.Instructions) == 0 {
		return nil, fmt.Errorf("%w: description names no instructions", ErrInterfaceNotFound)
	}
	return &iface, nil
}

// Instruction looks up an instruction by name. Missing instructions are an
// interface mismatch, reported as ErrInterfaceNotFound so callers fail fast
// before building anything.
func (p *ProgramInterface) Instruction(name string) (*InterfaceInstruction, error) {
	for i := range p.Instructions {
		if p.Instructions[i].Name == name {
			return &p.Instructions[i], nil
		}
	}
	return nil, fmt.Errorf("%w: program %q has no instruction %q", ErrInterfaceNotFound, p.Name, name)
}

// Discriminator returns the 8-byte instruction tag the program's dispatcher
// matches on: sha256("global:<name>")[:8].
func (ix *InterfaceInstruction) Discriminator() []byte {
	sum := sha256.Sum256([]byte("global:" + ix.Name))
	return sum[:8]
}

// EncodeData borsh-encodes the instruction data: discriminator followed by
// each declared argument in order. Arguments must cover every declared arg;
// composite types are rejected rather than guessed at.
func (ix *InterfaceInstruction) EncodeData(args map[string]interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(ix.Discriminator())
	enc := bin.NewBorshEncoder(buf)

	for _, arg := range ix.Args {
		value, ok := args[arg.Name]
		if !ok {
			return nil, fmt.Errorf("missing value for argument %q", arg.Name)
		}

		var typeName string
		if err := json.Unmarshal(arg.Type, &typeName); err != nil {
			return nil, fmt.Errorf("argument %q has composite type %s: not supported", arg.Name, string(arg.Type))
		}

		if err := encodeArg(enc, typeName, value); err != nil {
			return nil, fmt.Errorf("failed to encode argument %q: %w", arg.Name, err)
		}
	}

	return buf.Bytes(), nil
}

func encodeArg(enc *bin.Encoder, typeName string, value interface{}) error {
	switch typeName {
	case "u8":
		n, err := coerceUint(value)
		if err != nil {
			return err
		}
		return enc.WriteByte(byte(n))
	case "u16":
		n, err := coerceUint(value)
		if err != nil {
			return err
		}
		return enc.WriteUint16(uint16(n), binary.LittleEndian)
	case "u32":
		n, err := coerceUint(value)
		if err != nil {
			return err
		}
		return enc.WriteUint32(uint32(n), binary.LittleEndian)
	case "u64":
		n, err := coerceUint(value)
		if err != nil {
			return err
		}
		return enc.WriteUint64(n, binary.LittleEndian)
	case "bool":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		return enc.WriteBool(b)
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		return enc.WriteString(s)
	case "publicKey":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected base58 string, got %T", value)
		}
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			return fmt.Errorf("invalid public key: %w", err)
		}
		return enc.WriteBytes(pk.Bytes(), false)
	default:
		return fmt.Errorf("unsupported argument type %q", typeName)
	}
}

func coerceUint(value interface{}) (uint64, error) {
	switch n := value.(type) {
	case uint64:
		return n, nil
	case uint:
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative value %d", n)
		}
		return uint64(n), nil
	case float64:
		// JSON numbers decode as float64.
		if n < 0 {
			return 0, fmt.Errorf("negative value %v", n)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected unsigned integer, got %T", value)
	}
}

// idlAccountAddress derives the well-known address the deployer publishes
// the interface description to: create-with-seed("anchor:idl") off the
// program's base PDA.
func idlAccountAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	base, _, err := solana.FindProgramAddress(nil, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive interface base address: %w", err)
	}
	addr, err := solana.CreateWithSeed(base, "anchor:idl", programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive interface account address: %w", err)
	}
	return addr, nil
}

// ResolveInterface fetches and decodes the program's on-chain interface
// description. The account body is a header (8-byte discriminator, 32-byte
// authority, u32 length) followed by zlib-compressed JSON.
func (c *Client) ResolveInterface(ctx context.Context, programID solana.PublicKey) (*ProgramInterface, error) {
	addr, err := idlAccountAddress(programID)
	if err != nil {
		return nil, err
	}

	out, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: no interface account for program %s", ErrInterfaceNotFound, programID)
		}
		return nil, fmt.Errorf("failed to fetch interface account: %w", err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("%w: no interface account for program %s", ErrInterfaceNotFound, programID)
	}

	raw := out.Value.Data.GetBinary()
	iface, err := decodeInterfaceAccount(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInterfaceNotFound, err)
	}

	c.logger.DebugContext(ctx, "resolved program interface",
		"program", programID.String(),
		"name", iface.Name,
		"version", iface.Version,
		"instructions", len(iface.Instructions),
	)
	return iface, nil
}

func decodeInterfaceAccount(raw []byte) (*ProgramInterface, error) {
	const header = 8 + 32 + 4 // discriminator, authority, payload length
	if len(raw) < header {
		return nil, fmt.Errorf("interface account too small: %d bytes", len(raw))
	}
	payloadLen := binary.LittleEndian.Uint32(raw[40:44])
	body := raw[44:]
	if uint32(len(body)) < payloadLen {
		return nil, fmt.Errorf("interface account truncated: want %d bytes, have %d", payloadLen, len(body))
	}

	zr, err := zlib.NewReader(bytes.NewReader(body[:payloadLen]))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed interface payload: %w", err)
	}
	defer zr.Close()

	decompressed, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate interface payload: %w", err)
	}
	return ParseInterface(decompressed)
}
