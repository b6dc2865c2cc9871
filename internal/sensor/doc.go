// Package sensor defines the sensor type catalog: which sensor types exist,
// which fields each type must report, which sensor identities may submit, and
// the accepted pH band.
//
// The catalog is written in CUE. A default catalog is embedded in the binary;
// operators can replace it with a directory of .cue files (see LoadCatalog).
//
// Field order matters: the validator reports the first missing field in the
// order the catalog declares them.
package sensor
