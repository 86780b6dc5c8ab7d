// Package errors provides coded, categorized errors for the katai CLI.
//
// Library packages return plain Go errors. The CLI maps them to registered
// codes with Classify and prints them with Format:
//
//	if err != nil {
//	    errors.PrintError(errors.Classify(err))
//	    os.Exit(1)
//	}
//
// Codes are grouped by range:
//
//	K001-K019  store usage errors
//	K020-K039  cache errors
//	K040-K059  configuration errors
//	K060-K079  server and query errors
package errors
