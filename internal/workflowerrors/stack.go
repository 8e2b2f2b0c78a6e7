package workflowerrors

import goerrors "github.com/go-errors/errors"

func stack() string {
	goerr := goerrors.Wrap("", 2)
	return string(goerr.Stack())
}
