// Package principal implements the identity value shared by canisters and users.
//
// A Principal is an immutable byte string of at most 29 bytes. It is comparable
// with == and can be used as a map key. The textual form is the lowercase
// base32 encoding of a CRC-32 checksum followed by the bytes, split into
// groups of five characters:
//
//	principal.Anonymous().Text()      // "2vxsx-fae"
//	principal.Management().Text()     // "aaaaa-aa"
//	principal.FromCanisterID(1).Text() // "rrkah-fqaaa-aaaaa-aaaaq-cai"
package principal
