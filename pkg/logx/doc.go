// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger by value; the Service owns sink configuration
// and can swap outputs/levels at runtime without invalidating held loggers.
package logx
