// Package logger provides structured logging on top of zerolog.
//
// Loggers carry a service tag and can be narrowed to a component, a job or a
// step. Fields are passed as maps, usually built with Fields:
//
//	log := logger.Get("cache").WithJob(j.ID().String())
//	log.Info("materialized", logger.Fields(logger.FieldRows, n))
package logger
