// Package mql compiles MQL calls embedded in SQL.
//
// An MQL call names metrics and dimensions instead of tables:
//
//	SELECT * FROM MQL(total_item_revenue BY channel WHERE channel != 'Email') AS revenue
//
// Convert replaces every call with the SQL the query compiler generates for
// it and keeps the rest of the statement as written.
package mql

import (
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
)

const functionName = "MQL"

// Call is one MQL(...) call found in a SQL statement.
type Call struct {
	// Start and End are the byte offsets of the whole call.
	Start, End int
	// Body is the text between the parentheses.
	Body string
}

// Converter rewrites SQL containing MQL calls.
type Converter struct {
	compiler *query.Compiler
	logger   *slog.Logger
}

// NewConverter returns a Converter that compiles with c.
func NewConverter(c *query.Compiler, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Converter{compiler: c, logger: logger}
}

// Find returns the MQL calls in sql in order of appearance.
func Find(sql string) ([]Call, error) {
	tokens := NewLexer(sql).Tokens()
	var calls []Call
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.Type != IDENT || !strings.EqualFold(tok.Literal, functionName) {
			continue
		}
		if tokens[i+1].Type != LPAREN {
			return nil, core.NewParseError("Expected beginning and ending parenthesis around statement "+
				"beginning with %s in statement %s", tok.Literal, sql)
		}
		open := tokens[i+1]
		depth := 0
		j := i + 1
		for ; tokens[j].Type != EOF; j++ {
			if tokens[j].Type == LPAREN {
				depth++
			} else if tokens[j].Type == RPAREN {
				depth--
			}
			if depth == 0 {
				break
			}
		}
		if tokens[j].Type == EOF {
			return nil, core.NewParseError("Expected beginning and ending parenthesis around statement "+
				"beginning with %s in statement %s", tok.Literal, sql)
		}
		calls = append(calls, Call{Start: tok.Pos.Offset, End: tokens[j].End, Body: sql[open.End:tokens[j].Pos.Offset]})
		i = j
	}
	return calls, nil
}

// Convert replaces each MQL call in sql with its compiled SQL. base carries
// the request options every call inherits, such as the query type or the
// topic. A call that is the whole statement is not wrapped in parentheses.
// The result ends with a semicolon unless a compiled dialect omits them.
func (c *Converter) Convert(sql string, base query.Request) (string, error) {
	calls, err := Find(sql)
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSuffix(strings.TrimSpace(sql), ";")
	semicolon := true
	out := sql
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		req, err := Parse(call.Body)
		if err != nil {
			return "", err
		}
		inherit(&req, base)
		res, err := c.compiler.Compile(req)
		if err != nil {
			return "", err
		}
		if d, ok := dialect.Get(res.QueryType); ok && !d.Features().Semicolon {
			semicolon = false
		}
		compiled := strings.TrimSuffix(strings.TrimSpace(res.SQL), ";")
		if strings.TrimSpace(sql[call.Start:call.End]) != trimmed {
			compiled = "(" + compiled + ")"
		}
		out = out[:call.Start] + compiled + out[call.End:]
	}
	c.logger.Debug("converted MQL", "calls", len(calls))

	out = strings.TrimSpace(out)
	if semicolon && !strings.HasSuffix(out, ";") {
		out += ";"
	}
	return out, nil
}

func inherit(req *query.Request, base query.Request) {
	req.QueryType = base.QueryType
	req.ModelName = base.ModelName
	req.Topic = base.Topic
	req.SingleQuery = base.SingleQuery
	req.MergedResult = req.MergedResult || base.MergedResult
	if req.Limit == 0 {
		req.Limit = base.Limit
	}
}
