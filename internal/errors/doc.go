// Package errors provides structured, actionable errors for pagewire
// developers: route contract violations, protocol failures and invalid
// configuration.
//
// Each error has a code that maps to a short message, a longer explanation
// and, where one exists, a hint:
//
//	err := errors.New("C002").WithField("secret_key")
//	errors.Print(os.Stderr, err)
//	// ERROR C002: Secret key is required when sessions are enabled
//	//
//	//   secret_key
//	//
//	//   Session cookies are signed with the secret key.
//	//
//	//   Hint: Set secret_key in the config file or PAGEWIRE_SECRET_KEY, or disable sessions
//
// Errors with the same code match under errors.Is, so callers can test
// HasCode(err, "C002") through any amount of wrapping.
package errors
