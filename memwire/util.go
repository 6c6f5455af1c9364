package memwire

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

func CheckPow2[T constraints.Unsigned](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T constraints.Unsigned](value, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T constraints.Unsigned](value, alignment T) T {
	return value &^ (alignment - 1)
}
