// Package calibration defines the types shared by the flow sensor calibration
// workflow. It contains:
//
//   - Experiment: one completed measurement run against a reference value
//   - Phase: the discrete states of a measurement session
//   - AccuracyConvention and OffsetPolicy: the conventions a dataset is built with
//   - Fit, DeviationModel and Summary: the statistics views returned by HTTP APIs
//
// These types are shared across daemon, client and CLI code to avoid duplicate
// definitions and keep JSON contracts consistent.
package calibration
