package base

import "errors"

type OP int

const (
	SUM OP = iota
	MIN
	MAX
	PROD
)

var opNames = map[OP]string{
	SUM:  "SUM",
	MIN:  "MIN",
	MAX:  "MAX",
	PROD: "PROD",
}

func (o OP) String() string {
	return opNames[o]
}

var errInvalidOP = errors.New("invalid op")

func ParseOP(s string) (*OP, error) {
	for k, v := range opNames {
		if s == v {
			return &k, nil
		}
	}
	return nil, errInvalidOP
}
