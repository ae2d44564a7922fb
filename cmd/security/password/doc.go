// Package password provides the password policy and Argon2id hashing for gate.
package password
