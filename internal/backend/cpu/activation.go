package cpu

// ReLU computes out = max(0, in).
func (be *Backend) ReLU(out, in Matrix) error {
	return be.LeakyReLU(out, in, 0)
}

// ReLUBackward accumulates dx += dy where x > 0.
func (be *Backend) ReLUBackward(dx, dy, x Matrix) error {
	return be.LeakyReLUBackward(dx, dy, x, 0)
}

// LeakyReLU computes out = in for in > 0 and slope * in otherwise.
func (be *Backend) LeakyReLU(out, in Matrix, slope float32) error {
	if err := sameDims("leaky relu", out, in); err != nil {
		return err
	}
	be.eachRow(in.Batch, in.Rows, func(n, r int) {
		o, i := out.Index(n, r, 0), in.Index(n, r, 0)
		for c := 0; c < in.Cols; c++ {
			v := in.Data[i+c]
			if v <= 0 {
				v *= slope
			}
			out.Data[o+c] = v
		}
	})
	return nil
}

// LeakyReLUBackward accumulates dx += dy * (x > 0 ? 1 : slope).
func (be *Backend) LeakyReLUBackward(dx, dy, x Matrix, slope float32) error {
	if err := sameDims("leaky relu backward", dx, dy); err != nil {
		return err
	}
	if err := sameDims("leaky relu backward", dx, x); err != nil {
		return err
	}
	be.eachRow(x.Batch, x.Rows, func(n, r int) {
		d, g, i := dx.Index(n, r, 0), dy.Index(n, r, 0), x.Index(n, r, 0)
		for c := 0; c < x.Cols; c++ {
			if x.Data[i+c] > 0 {
				dx.Data[d+c] += dy.Data[g+c]
			} else {
				dx.Data[d+c] += slope * dy.Data[g+c]
			}
		}
	})
	return nil
}
