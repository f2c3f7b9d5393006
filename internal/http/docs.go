// package http contains the request and response types, which are meant
// to be exported. the package name is meant to be same with the top
// level package name so that IDEs and code editors could pick them up
//
// unlike net/http, headers are kept as an ordered field list: the h2
// layer merges head and extra fields and must preserve the relative
// order within each side of the merge
package http
