// Copyright 2025 The flashmatrix Authors. SPDX-License-Identifier: Apache-2.0

// Command fmtool exercises the matrix engine from the command line:
// sequence and constant construction, dense and block multiplication,
// and vector groupby. It is a manual-verification surface, not part of
// the library contract.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ralic/flashmatrix/fm"
	"github.com/ralic/flashmatrix/fmblock"
	"github.com/ralic/flashmatrix/fmvector"
)

func main() {
	root := &cobra.Command{
		Use:           "fmtool",
		Short:         "flashmatrix command-line driver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(seqCmd(), constCmd(), multiplyCmd(), groupbyCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fmtool:", err)
		os.Exit(1)
	}
}

func seqCmd() *cobra.Command {
	var from, to, by float64
	cmd := &cobra.Command{
		Use:   "seq",
		Short: "print a sequence vector and its sum",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := fmvector.CreateSeq(from, to, by)
			if err != nil {
				return err
			}
			printVector(v)
			sum, err := v.Aggregate(fm.AggSum)
			if err != nil {
				return err
			}
			fmt.Printf("sum: %g\n", sum.Float64())
			return nil
		},
	}
	cmd.Flags().Float64Var(&from, "from", 1, "first element")
	cmd.Flags().Float64Var(&to, "to", 10, "upper bound (inclusive)")
	cmd.Flags().Float64Var(&by, "by", 1, "stride")
	return cmd
}

func constCmd() *cobra.Command {
	var rows, cols int
	var val float64
	cmd := &cobra.Command{
		Use:   "const",
		Short: "print a constant-filled matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := fm.CreateConstMatrix(rows, cols, fm.LayoutCol,
				fm.Scalar{Kind: fm.KindFloat64, F64: val})
			if err != nil {
				return err
			}
			return printMatrix(m)
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 3, "row count")
	cmd.Flags().IntVar(&cols, "cols", 2, "column count")
	cmd.Flags().Float64Var(&val, "val", 7, "fill value")
	return cmd
}

func multiplyCmd() *cobra.Command {
	var rows, inner, cols, blockSize int
	cmd := &cobra.Command{
		Use:   "multiply",
		Short: "multiply two sequence-filled matrices, optionally block-partitioned",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Value depends only on the global coordinate, so the dense
			// and block fills agree regardless of member fill order.
			fill := func(width int) fm.SetOperate {
				return func(dest fm.Array, n, r, c int) error {
					for i := 0; i < n; i++ {
						dest.F64[i] = float64(r*width + c + i + 1)
					}
					return nil
				}
			}
			a, err := fm.CreateMatrix(rows, inner, fm.LayoutRow, fm.KindFloat64, fill(inner))
			if err != nil {
				return err
			}
			b, err := fm.CreateMatrix(inner, cols, fm.LayoutRow, fm.KindFloat64, fill(cols))
			if err != nil {
				return err
			}
			var res *fm.DenseMatrix
			if blockSize > 0 {
				ab, err := fmblock.Create(rows, inner, blockSize, fm.KindFloat64, fill(inner))
				if err != nil {
					return err
				}
				if res, err = ab.Multiply(b, fm.LayoutNone); err != nil {
					return err
				}
			} else {
				if res, err = a.Multiply(b, fm.LayoutNone); err != nil {
					return err
				}
			}
			if err := res.MaterializeSelf(); err != nil {
				return err
			}
			return printMatrix(res)
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 4, "left row count")
	cmd.Flags().IntVar(&inner, "inner", 3, "contraction length")
	cmd.Flags().IntVar(&cols, "cols", 2, "right column count")
	cmd.Flags().IntVar(&blockSize, "block-size", 0, "block size (0 for dense)")
	return cmd
}

func groupbyCmd() *cobra.Command {
	var values string
	cmd := &cobra.Command{
		Use:   "groupby",
		Short: "group a comma-separated list of values and sum each group",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := strings.Split(values, ",")
			vals := make([]float64, 0, len(fields))
			for _, f := range fields {
				v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
				if err != nil {
					return err
				}
				vals = append(vals, v)
			}
			vec, err := fmvector.FromSlice(vals)
			if err != nil {
				return err
			}
			df, err := vec.Groupby(fmvector.AggGroup(fm.AggSum), true)
			if err != nil {
				return err
			}
			for i := 0; i < df.Agg.Length(); i++ {
				key, _ := df.Val.GetFloat64(i)
				agg, _ := df.Agg.GetFloat64(i)
				fmt.Printf("%g\t%g\n", key, agg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&values, "values", "1,1,2,2,2,3", "comma-separated values")
	return cmd
}

func printVector(v *fmvector.Vector) {
	for i := 0; i < v.Length(); i++ {
		f, _ := v.GetFloat64(i)
		if i > 0 {
			fmt.Print(" ")
		}
		fmt.Printf("%g", f)
	}
	fmt.Println()
}

func printMatrix(m *fm.DenseMatrix) error {
	for r := 0; r < m.NumRows(); r++ {
		for c := 0; c < m.NumCols(); c++ {
			v, err := m.GetFloat64(r, c)
			if err != nil {
				return err
			}
			if c > 0 {
				fmt.Print("\t")
			}
			fmt.Printf("%g", v)
		}
		fmt.Println()
	}
	return nil
}
