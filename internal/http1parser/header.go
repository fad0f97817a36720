// Package http1parser recovers non-canonical wire header-name casing that
// net/http's request parser normalizes away, for the PreventCanonicalization
// option (spec.md §6). Grounded on the teacher's byte-level header scanner,
// itself derived from github.com/evanphx/wildcat; wired here into
// internal/peerconn.Channel.EnablePreventCanonicalization. ErrBadProto and
// ErrMissingData are returned by Http1ExtractHeaders only: RequestReader
// falls back to the canonically parsed request on either, so neither error
// reaches peerconn.
package http1parser

import "errors"

var (
	ErrBadProto    = errors.New("bad protocol")
	ErrMissingData = errors.New("missing data")
)

// headerParseState is the header-scanner's state, named the way
// peerconn.State is (see state.go) rather than left as bare untyped ints.
type headerParseState int

const (
	stateNextHeader headerParseState = iota
	stateNextHeaderN
	stateHeader
	stateHeaderValueSpace
	stateHeaderValue
	stateHeaderValueN
	stateMLHeaderStart
	stateMLHeaderValue
)

// Http1ExtractHeaders is an HTTP/1.0 and HTTP/1.1 header-only parser,
// to extract the original header names for the received request.
// Fully inspired by https://github.com/evanphx/wildcat
func Http1ExtractHeaders(input []byte) ([]string, error) {
	total := len(input)
	var path, version, headers int
	var headerNames []string

	// First line: METHOD PATH VERSION
	var methodOk bool
	for i := 0; i < total; i++ {
		switch input[i] {
		case ' ', '\t':
			methodOk = true
			path = i + 1
		}
		if methodOk {
			break
		}
	}

	if !methodOk {
		return nil, ErrMissingData
	}

	var pathOk bool
	for i := path; i < total; i++ {
		switch input[i] {
		case ' ', '\t':
			pathOk = true
			version = i + 1
		}
		if pathOk {
			break
		}
	}

	if !pathOk {
		return nil, ErrMissingData
	}

	var versionOk bool
	var readN bool
	for i := version; i < total; i++ {
		c := input[i]

		switch readN {
		case false:
			switch c {
			case '\r':
				readN = true
			case '\n':
				headers = i + 1
				versionOk = true
			}
		case true:
			if c != '\n' {
				return nil, ErrBadProto
			}
			headers = i + 1
			versionOk = true
		}
		if versionOk {
			break
		}
	}

	if !versionOk {
		return nil, ErrMissingData
	}

	// Header parsing
	state := stateNextHeader
	start := headers

	for i := headers; i < total; i++ {
		switch state {
		case stateNextHeader:
			switch input[i] {
			case '\r':
				state = stateNextHeaderN
			case '\n':
				return headerNames, nil
			case ' ', '\t':
				state = stateMLHeaderStart
			default:
				start = i
				state = stateHeader
			}
		case stateNextHeaderN:
			if input[i] != '\n' {
				return nil, ErrBadProto
			}

			return headerNames, nil
		case stateHeader:
			if input[i] == ':' {
				headerName := input[start:i]
				headerNames = append(headerNames, string(headerName))
				state = stateHeaderValueSpace
			}
		case stateHeaderValueSpace:
			switch input[i] {
			case ' ', '\t':
				continue
			}

			start = i
			state = stateHeaderValue
		case stateHeaderValue:
			switch input[i] {
			case '\r':
				state = stateHeaderValueN
			case '\n':
				state = stateNextHeader
			default:
				continue
			}
		case stateHeaderValueN:
			if input[i] != '\n' {
				return nil, ErrBadProto
			}
			state = stateNextHeader
		case stateMLHeaderStart:
			switch input[i] {
			case ' ', '\t':
				continue
			}

			start = i
			state = stateMLHeaderValue
		case stateMLHeaderValue:
			switch input[i] {
			case '\r':
				state = stateHeaderValueN
			case '\n':
				state = stateNextHeader
			default:
				continue
			}
		}
	}

	return nil, ErrMissingData
}
