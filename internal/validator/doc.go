// Package validator admits or rejects sensor submissions.
//
// A submission names a sensor type, a sensor identity, a nonce and a raw
// payload. Validate runs the admission rules in a fixed order and reports
// the first rule that fails; later rules never run. The order is:
//
//  1. the payload parses as a JSON object
//  2. the identity is on the catalog allow-list
//  3. the nonce has not been claimed (and, when enabled, the timestamp is fresh)
//  4. the payload decrypts
//  5. the payload signature verifies
//  6. every required field of the sensor type is present, in declared order
//  7. a pH field lies within the catalog pH range
//
// Only a submission that passes every rule claims its nonce in the ledger.
// Rejections are returned as data in Result. The error return of Validate is
// reserved for ledger failures.
//
// Validate is safe for concurrent use. The ledger claim is the single
// check-and-insert step, so two concurrent submissions carrying the same
// nonce admit at most one.
package validator
