package domain

import dErrors "crono/pkg/domain-errors"

// Modality is the closed set of race formats. Adding a modality means adding
// a constant here plus an engine implementation; the engine registry is keyed
// by this type, so the compiler flags unhandled modalities.
type Modality string

const (
	ModalityCircuit Modality = "circuit"
	ModalityEnduro  Modality = "enduro"
)

var validModalities = map[Modality]bool{
	ModalityCircuit: true,
	ModalityEnduro:  true,
}

// ParseModality constructs a Modality from external input.
func ParseModality(s string) (Modality, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "modality cannot be empty")
	}
	m := Modality(s)
	if !validModalities[m] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid modality %q", s)
	}
	return m, nil
}

func (m Modality) IsValid() bool { return validModalities[m] }

func (m Modality) String() string { return string(m) }

// ReadingType identifies what a collector checkpoint recorded: a full-circuit
// pass, or the entry/exit gate of an enduro special.
type ReadingType string

const (
	ReadingPass  ReadingType = "pass"
	ReadingEntry ReadingType = "entry"
	ReadingExit  ReadingType = "exit"
)

var validReadingTypes = map[ReadingType]bool{
	ReadingPass:  true,
	ReadingEntry: true,
	ReadingExit:  true,
}

// ParseReadingType constructs a ReadingType from external input.
func ParseReadingType(s string) (ReadingType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "reading type cannot be empty")
	}
	t := ReadingType(s)
	if !validReadingTypes[t] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid reading type %q", s)
	}
	return t, nil
}

func (t ReadingType) IsValid() bool { return validReadingTypes[t] }

// LegalFor reports whether this reading type is accepted for a modality:
// circuit stages take only passes, enduro stages take only entry/exit gates.
func (t ReadingType) LegalFor(m Modality) bool {
	switch m {
	case ModalityCircuit:
		return t == ReadingPass
	case ModalityEnduro:
		return t == ReadingEntry || t == ReadingExit
	}
	return false
}

func (t ReadingType) String() string { return string(t) }
