package memwire

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// MalformedChunksError is the error returned from ParseChunks if a payload's length disagrees with its record count header
var MalformedChunksError error = errors.New("chunk payload is malformed")
