// Package cmaes implements the adaptation engine of a Covariance Matrix
// Adaptation Evolution Strategy: a derivative-free optimizer that samples
// candidate vectors from a multivariate normal distribution and adapts its
// mean, step size, and covariance from ranked, externally-supplied fitness
// values.
//
// The package does not evaluate objective functions itself. The caller
// drives the loop: ask the Optimizer for a population with SamplePopulation,
// evaluate each member however it sees fit (in parallel if desired), and
// feed the fitnesses back through UpdateDistribution.
package cmaes
