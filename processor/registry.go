package processor

import "fmt"

// Registry is the closed catalog of extractors and calculators the DAG
// scheduler runs over every decoded frame. Extractors form a dependency
// forest (no processor depends on more than one other); calculators are
// always leaves, each depending on exactly one extractor's matrix output.
type Registry struct {
	// Extractors maps an extractor's name to its Processor.
	Extractors map[string]*Processor
	// Order is a topological ordering of Extractors: each processor
	// appears after the extractor it DependsOn, computed once at startup
	// rather than per frame.
	Order []*Processor
	// Calculators is the full list of scalar-producing leaf processors.
	Calculators []*Processor
}

// NewRegistry builds the canonical catalog: Y/U/V, SI, TI, GLCM and its
// four derived properties, and FHV13 as extractors; Mean/STD over Y (the
// CTI columns), SI, TI and the GLCM properties, plus the FHV13 ratio, as
// calculators.
func NewRegistry() (*Registry, error) {
	extractors := []*Processor{
		yExtractor(),
		uExtractor(),
		vExtractor(),
		siExtractor(),
		tiExtractor(),
		glcmExtractor(),
		glcmPropertyExtractor(glcmContrast),
		glcmPropertyExtractor(glcmCorrelation),
		glcmPropertyExtractor(glcmEnergy),
		glcmPropertyExtractor(glcmHomogeneity),
		fhv13Extractor(),
	}

	calculators := []*Processor{
		namedMeanCalculator("Y", "CTI_mean"), namedStdCalculator("Y", "CTI_std"),
		meanCalculator("SI"), stdCalculator("SI"),
		meanCalculator("TI"), stdCalculator("TI"),
		meanCalculator("GLCM_contrast"), stdCalculator("GLCM_contrast"),
		meanCalculator("GLCM_correlation"), stdCalculator("GLCM_correlation"),
		meanCalculator("GLCM_energy"), stdCalculator("GLCM_energy"),
		meanCalculator("GLCM_homogeneity"), stdCalculator("GLCM_homogeneity"),
		fhv13Calculator(),
	}

	return buildRegistry(extractors, calculators)
}

// NewRegistryFrom builds a Registry from an arbitrary extractor/calculator
// set, bypassing the canonical catalog. Used by tests that need a minimal
// or deliberately-broken registry.
func NewRegistryFrom(extractors, calculators []*Processor) (*Registry, error) {
	return buildRegistry(extractors, calculators)
}

func buildRegistry(extractors, calculators []*Processor) (*Registry, error) {
	byName := make(map[string]*Processor, len(extractors))
	for _, p := range extractors {
		if _, exists := byName[p.Name]; exists {
			return nil, fmt.Errorf("duplicate extractor name %q", p.Name)
		}
		byName[p.Name] = p
	}

	for _, c := range calculators {
		if c.DependsOn == "" {
			return nil, fmt.Errorf("calculator %q has no dependency", c.Name)
		}
		if _, ok := byName[c.DependsOn]; !ok {
			return nil, fmt.Errorf("calculator %q depends on unknown extractor %q", c.Name, c.DependsOn)
		}
	}

	order, err := topologicalOrder(byName)
	if err != nil {
		return nil, err
	}

	return &Registry{Extractors: byName, Order: order, Calculators: calculators}, nil
}

// topologicalOrder computes a dependency-respecting order using Kahn's
// algorithm specialized to a forest: every node has at most one parent.
func topologicalOrder(byName map[string]*Processor) ([]*Processor, error) {
	childrenOf := make(map[string][]*Processor)
	var roots []*Processor
	for _, p := range byName {
		if p.DependsOn == "" {
			roots = append(roots, p)
			continue
		}
		if _, ok := byName[p.DependsOn]; !ok {
			return nil, fmt.Errorf("extractor %q depends on unknown extractor %q", p.Name, p.DependsOn)
		}
		childrenOf[p.DependsOn] = append(childrenOf[p.DependsOn], p)
	}

	var order []*Processor
	visited := make(map[string]bool)
	queue := append([]*Processor{}, roots...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if visited[p.Name] {
			return nil, fmt.Errorf("cycle detected at extractor %q", p.Name)
		}
		visited[p.Name] = true
		order = append(order, p)
		queue = append(queue, childrenOf[p.Name]...)
	}
	if len(order) != len(byName) {
		return nil, fmt.Errorf("dependency graph is not fully connected: ordered %d of %d extractors", len(order), len(byName))
	}
	return order, nil
}
