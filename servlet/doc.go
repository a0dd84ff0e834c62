// Package servlet defines the programming model for web applications hosted
// by the jerrymouse container: servlets, filters, listeners, and the request,
// response, session and context views they operate on.
//
// # Components
//
// A web application is a set of Components. Each one pairs a factory with
// metadata that plays the role of the classic @WebServlet, @WebFilter and
// @WebListener annotations:
//
//	func init() {
//		servlet.Register(servlet.Component{
//			Type: "hello.Greeter",
//			New:  func() any { return &Greeter{} },
//			Servlet: &servlet.WebServlet{
//				URLPatterns: []string{"/hello"},
//			},
//		})
//	}
//
// Components linked into the binary register from init functions. Components
// shipped in a web archive are exported from Go plugins under WEB-INF through
// a Components function with the signature
//
//	func Components() []servlet.Component
//
// # Pipeline
//
// Every request is matched against the servlet URL patterns (exact, then
// longest prefix, then extension, then default "/"), every filter whose
// pattern matches is collected, and the request runs through the filters in
// order before reaching the servlet. A filter continues the pipeline by
// calling FilterChain.DoFilter.
//
// # Errors
//
// Contract violations surface as errors wrapping ErrIllegalState: writing
// headers after the response is committed, opening both body views, or using
// an invalidated session. Application failures should be reported as *Error.
package servlet
