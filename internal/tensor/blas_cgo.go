//go:build cgo && netlib

package tensor

// Registers the netlib BLAS implementation, which links against the system
// BLAS (Accelerate on macOS, OpenBLAS on Linux). Build with -tags netlib.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas64.Use(netlib.Implementation{})
	log.Debug().Msg("cgo BLAS enabled (netlib)")
}
