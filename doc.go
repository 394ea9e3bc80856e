// Package tsnego computes t-SNE embeddings with Barnes–Hut gradient descent.
//
// An Engine turns a row-major float32 data matrix into a 2D or 3D embedding
// in which points that are close in the input stay close. It calibrates a
// sparse affinity matrix on the k nearest neighbours of every point, exact
// (vantage-point tree) or approximate (randomized kd-forest), and then
// iterates a gradient descent whose repulsive forces are approximated with
// a space-partitioning tree.
//
// # Quick Start
//
//	engine, _ := tsnego.New(
//		tsnego.WithPerplexity(30),
//		tsnego.WithIterations(1000),
//		tsnego.WithRandomSeed(42),
//	)
//	if err := engine.Initialize(ctx, data, dim); err != nil {
//		return err
//	}
//	if err := engine.Run(ctx); err != nil {
//		return err
//	}
//	embedding := engine.Embedding() // 2 values per point
//
// # Running in the Background
//
// Start runs the descent on its own goroutine. The embedding can be read at
// any time, and the callbacks report progress:
//
//	engine.OnEmbeddingUpdated(func(iteration int) {
//		draw(engine.Embedding())
//	})
//	engine.OnDivergence(func(d tsnego.Divergence) {
//		log.Printf("iteration %d: KL %.4f", d.Iteration, d.Total)
//	})
//	_ = engine.Start(ctx)
//	...
//	engine.Stop()
//	_ = engine.Wait()
//
// A stopped run resumes from ContinueFromIteration with the next Run.
//
// # Refinement
//
// With approximate neighbours the affinities can be refined in the
// background while the descent runs. RefinementDensity recomputes every row
// in order of increasing bandwidth; RefinementKNN recomputes the rows
// reached from points passed to RefineSelection:
//
//	engine, _ := tsnego.New(
//		tsnego.WithApproximateKNN(4, 64),
//		tsnego.WithRefinement(tsnego.RefinementDensity, 1),
//	)
//
// # Interaction
//
// ExaggerateSelection raises the attraction around selected points and
// SetFixedPoints pins points in place while the others keep moving.
//
// # Observability
//
// WithLogger installs a structured slog-based Logger and
// WithMetricsObserver a MetricsObserver. BasicMetricsCollector is an
// in-memory observer.
package tsnego
