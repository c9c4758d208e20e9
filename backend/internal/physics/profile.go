package physics

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// CombineMode определяет, как смешиваются параметры материалов двух тел в контакте
type CombineMode uint8

const (
	CombineMaximum CombineMode = iota
	CombineMinimum
	CombineAverage
	CombineMultiply
	CombineGeometricMean
)

func (m CombineMode) combine(a, b float64) float64 {
	switch m {
	case CombineMaximum:
		return math.Max(a, b)
	case CombineMinimum:
		return math.Min(a, b)
	case CombineAverage:
		return (a + b) / 2
	case CombineMultiply:
		return a * b
	case CombineGeometricMean:
		return math.Sqrt(a * b)
	default:
		return math.Max(a, b)
	}
}

// SolverProfile - параметры решателя, хранящиеся в бинарнике движка
type SolverProfile struct {
	Substeps           int         `msgpack:"substeps"`
	Iterations         int         `msgpack:"iterations"`
	RestingSpeed       float64     `msgpack:"resting_speed"` // ниже этой скорости удар не отскакивает
	Slop               float64     `msgpack:"slop"`          // допустимое проникновение
	Correction         float64     `msgpack:"correction"`    // доля выталкивания за итерацию
	MaxSpeed           float64     `msgpack:"max_speed"`
	FrictionCombine    CombineMode `msgpack:"friction_combine"`
	RestitutionCombine CombineMode `msgpack:"restitution_combine"`
}

// DefaultProfile возвращает профиль, который пишет enginepack по умолчанию
func DefaultProfile() SolverProfile {
	return SolverProfile{
		Substeps:           4,
		Iterations:         4,
		RestingSpeed:       0.5,
		Slop:               0.005,
		Correction:         0.8,
		MaxSpeed:           200,
		FrictionCombine:    CombineGeometricMean,
		RestitutionCombine: CombineMaximum,
	}
}

// Validate проверяет, что профилем можно пользоваться
func (p SolverProfile) Validate() error {
	switch {
	case p.Substeps < 1 || p.Substeps > 64:
		return fmt.Errorf("substeps %d outside [1, 64]", p.Substeps)
	case p.Iterations < 1 || p.Iterations > 64:
		return fmt.Errorf("iterations %d outside [1, 64]", p.Iterations)
	case p.RestingSpeed < 0:
		return fmt.Errorf("negative resting speed %v", p.RestingSpeed)
	case p.Slop < 0:
		return fmt.Errorf("negative slop %v", p.Slop)
	case p.Correction < 0 || p.Correction > 1:
		return fmt.Errorf("correction %v outside [0, 1]", p.Correction)
	case p.MaxSpeed <= 0:
		return fmt.Errorf("max speed must be positive, got %v", p.MaxSpeed)
	case p.FrictionCombine > CombineGeometricMean || p.RestitutionCombine > CombineGeometricMean:
		return errors.New("unknown combine mode")
	}
	return nil
}

// Формат файла движка:
//
//	"XBPE" | version uint16 | payload length uint32 | msgpack payload | crc32(payload)
const (
	profileMagic   = "XBPE"
	ProfileVersion = uint16(1)
	headerSize     = 4 + 2 + 4
	trailerSize    = 4
	maxPayloadSize = 1 << 16
)

// EncodeProfile сериализует профиль в бинарный формат движка
func EncodeProfile(p SolverProfile) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}

	payload, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(payload)+trailerSize))
	buf.WriteString(profileMagic)
	_ = binary.Write(buf, binary.BigEndian, ProfileVersion)
	_ = binary.Write(buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
	_ = binary.Write(buf, binary.BigEndian, crc32.ChecksumIEEE(payload))

	return buf.Bytes(), nil
}

// DecodeProfile разбирает бинарник движка.
// Ошибка всегда имеет тип *InitError с Kind corrupt или incompatible.
func DecodeProfile(data []byte) (SolverProfile, error) {
	corrupt := func(format string, args ...interface{}) (SolverProfile, error) {
		return SolverProfile{}, &InitError{Kind: KindCorrupt, Err: fmt.Errorf(format, args...)}
	}

	if len(data) < headerSize+trailerSize {
		return corrupt("truncated binary: %d bytes", len(data))
	}
	if string(data[:4]) != profileMagic {
		return corrupt("bad magic %q", data[:4])
	}

	version := binary.BigEndian.Uint16(data[4:6])
	if version != ProfileVersion {
		return SolverProfile{}, &InitError{
			Kind: KindIncompatible,
			Err:  fmt.Errorf("binary version %d, supported %d", version, ProfileVersion),
		}
	}

	size := binary.BigEndian.Uint32(data[6:10])
	if size > maxPayloadSize || int(size) != len(data)-headerSize-trailerSize {
		return corrupt("payload length %d does not match file size %d", size, len(data))
	}

	payload := data[headerSize : headerSize+int(size)]
	want := binary.BigEndian.Uint32(data[headerSize+int(size):])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return corrupt("checksum mismatch: %08x != %08x", got, want)
	}

	var p SolverProfile
	if err := msgpack.Unmarshal(payload, &p); err != nil {
		return corrupt("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return SolverProfile{}, &InitError{Kind: KindIncompatible, Err: err}
	}
	return p, nil
}

// WriteProfileFile записывает бинарник движка на диск
func WriteProfileFile(path string, p SolverProfile) error {
	data, err := EncodeProfile(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
