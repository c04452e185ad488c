package ir

// Kind identifies the payload carried by a Value.
type Kind uint8

const (
	KindUnbound Kind = iota
	KindNone
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindURI
	KindQName
	KindInstant
	KindDuration
	KindUnit
	KindEntity
	KindConcept
	KindFact
	KindList
	KindSet
	KindDict
	KindNetwork
	KindRelationship
	KindLabel
	KindReference
	KindRole
	KindSeverity
	KindFormula
)

var kindNames = [...]string{
	KindUnbound:      "unbound",
	KindNone:         "none",
	KindBool:         "boolean",
	KindInt:          "integer",
	KindFloat:        "float",
	KindDecimal:      "decimal",
	KindString:       "string",
	KindURI:          "uri",
	KindQName:        "qname",
	KindInstant:      "instant",
	KindDuration:     "duration",
	KindUnit:         "unit",
	KindEntity:       "entity",
	KindConcept:      "concept",
	KindFact:         "fact",
	KindList:         "list",
	KindSet:          "set",
	KindDict:         "dictionary",
	KindNetwork:      "network",
	KindRelationship: "relationship",
	KindLabel:        "label",
	KindReference:    "reference",
	KindRole:         "role",
	KindSeverity:     "severity",
	KindFormula:      "formula",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsNumeric reports whether values of this kind take part in arithmetic.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat || k == KindDecimal
}

// IsCollection reports whether values of this kind hold other values.
func (k Kind) IsCollection() bool {
	return k == KindList || k == KindSet || k == KindDict
}

// IsNamed reports whether the payload is a plain name (networks, labels, ...).
func (k Kind) IsNamed() bool {
	switch k {
	case KindNetwork, KindRelationship, KindLabel, KindReference, KindRole, KindSeverity, KindFormula:
		return true
	}
	return false
}
