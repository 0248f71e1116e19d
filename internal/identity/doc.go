// Package identity implements the HTTP client for the remote identity endpoint.
//
// The client is stateless: every operation is one request/response
// exchange, and failures are mapped onto the domain error taxonomy:
//
//	POST /token/          {username,password}  -> {access,refresh}
//	POST /token/refresh/  {refresh}            -> {access}
//	GET  /user/profile/   Bearer access        -> profile object
//	POST /register/       {username,email,password,password2}
//	POST /logout/         {refresh_token}, Bearer access
//
// Transport failures (DNS, connect, TLS, timeouts) surface as
// domain.ErrNetwork and never imply anything about token validity.
package identity
