// Package expr evaluates rule expressions against a context of named
// variables and unary functions.
//
// Expressions are written in CEL (Common Expression Language). Variables and
// functions are supplied per evaluation through a [Context], so an expression
// may reference identifiers that only exist for some findings:
//
//	content5 == 1 && cvtBoolToInt(body12 > 3) + cvtBoolToInt(md5 == "d41d8cd98f00b204e9800998ecf8427e") >= 1
//
// Referencing an identifier missing from the context is an evaluation error.
package expr
