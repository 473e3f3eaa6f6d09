// Package parameters parses compact parameter declarations of the form
// parameterName[fully qualified type name](kind/location) into typed plan
// parameters with a binding location.
package parameters

import (
	"github.com/luxera/rungate/model"
	bstate "github.com/viant/bindly/state"
	"github.com/viant/parsly"
)

// Parse parses a compact parameter declaration.
func Parse(input []byte) (*model.Parameter, error) {
	cursor := parsly.NewCursor("", input, 0)
	parameter := &model.Parameter{Location: &bstate.Location{}}

	matched := cursor.MatchOne(identifierToken)
	if matched.Code != identifierToken.Code {
		return nil, cursor.NewError(identifierToken)
	}
	parameter.Name = matched.Text(cursor)

	matched = cursor.MatchOne(openSquareBracketToken)
	if matched.Code != openSquareBracketToken.Code {
		return nil, cursor.NewError(openSquareBracketToken)
	}

	matched = cursor.MatchOne(dataTypeToken)
	if matched.Code != dataTypeToken.Code {
		return nil, cursor.NewError(dataTypeToken)
	}
	parameter.DataType = matched.Text(cursor)

	matched = cursor.MatchOne(closeSquareBracketToken)
	if matched.Code != closeSquareBracketToken.Code {
		return nil, cursor.NewError(closeSquareBracketToken)
	}

	matched = cursor.MatchAfterOptional(whitespaceToken, openParenToken)
	if matched.Code != openParenToken.Code {
		return nil, cursor.NewError(openParenToken)
	}

	// (kind), (kind/location) or ()
	matched = cursor.MatchAny(kindToken, closeParenToken)
	switch matched.Code {
	case kindToken.Code:
	case closeParenToken.Code:
		return parameter, nil
	default:
		return nil, cursor.NewError(kindToken)
	}
	parameter.Location.Kind = matched.Text(cursor)

	matched = cursor.MatchOne(slashToken)
	if matched.Code != slashToken.Code {
		matched = cursor.MatchOne(closeParenToken)
		if matched.Code != closeParenToken.Code {
			return nil, cursor.NewError(closeParenToken)
		}
		return parameter, nil
	}

	matched = cursor.MatchOne(locationToken)
	if matched.Code != locationToken.Code {
		return nil, cursor.NewError(locationToken)
	}
	parameter.Location.In = matched.Text(cursor)

	matched = cursor.MatchOne(closeParenToken)
	if matched.Code != closeParenToken.Code {
		return nil, cursor.NewError(closeParenToken)
	}
	return parameter, nil
}
