// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger (usually derived via With(logx.String("comp",
// ...))) and never touch zerolog directly, so sink wiring stays in one place.
package logx
