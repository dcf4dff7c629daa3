package processor

import "math"

// meanCalculator builds a `Mean(<matrix>)` calculator, named
// `<matrix>_mean` to match the Aggregator's `<column>_<agg>` convention.
func meanCalculator(matrixName string) *Processor {
	return namedMeanCalculator(matrixName, matrixName+"_mean")
}

// namedMeanCalculator is meanCalculator with an explicit output column
// name, for columns whose descriptor name differs from the matrix they
// fold (CTI_mean is the mean of the raw Y plane).
func namedMeanCalculator(matrixName, name string) *Processor {
	return &Processor{
		Name:      name,
		Kind:      KindCalculator,
		DependsOn: matrixName,
		Run: func(in Input) (Value, error) {
			if !in.Dep.Valid {
				return Value{Valid: false}, nil
			}
			m, ok := mean(in.Dep.Matrix.Data)
			if !ok {
				return Value{Valid: false}, nil
			}
			return Value{Scalar: m, Valid: true}, nil
		},
	}
}

// stdCalculator builds a `STD(<matrix>)` calculator, named `<matrix>_std`.
func stdCalculator(matrixName string) *Processor {
	return namedStdCalculator(matrixName, matrixName+"_std")
}

// namedStdCalculator is stdCalculator with an explicit output column name.
func namedStdCalculator(matrixName, name string) *Processor {
	return &Processor{
		Name:      name,
		Kind:      KindCalculator,
		DependsOn: matrixName,
		Run: func(in Input) (Value, error) {
			if !in.Dep.Valid {
				return Value{Valid: false}, nil
			}
			s, ok := populationStdDev(in.Dep.Matrix.Data)
			if !ok {
				return Value{Valid: false}, nil
			}
			return Value{Scalar: s, Valid: true}, nil
		},
	}
}

// fhv13Calculator reduces the two-channel FHV13 matrix to the single
// blockiness ratio max(mean(ch0), 3) / max(mean(ch1), 3).
func fhv13Calculator() *Processor {
	return &Processor{
		Name:      "FHV13",
		Kind:      KindCalculator,
		DependsOn: "FHV13",
		Run: func(in Input) (Value, error) {
			if !in.Dep.Valid {
				return Value{Valid: false}, nil
			}
			m := in.Dep.Matrix
			ch0Mean, _ := mean(m.Channel(0))
			ch1Mean, _ := mean(m.Channel(1))
			ratio := math.Max(ch0Mean, 3) / math.Max(ch1Mean, 3)
			return Value{Scalar: ratio, Valid: true}, nil
		},
	}
}
