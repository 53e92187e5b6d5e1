package traffic

// ruleOutputs maps rule output indices to categories. Kept as an array so the
// firing-strength accumulator can be sized at compile time.
var ruleOutputs = [3]Category{CategoryNone, CategoryMild, CategorySevere}

const (
	outNone = iota
	outMild
	outSevere
)

// rule is one row of the inference table: a conjunction of one linguistic
// level per input variable, mapping to exactly one output label.
type rule struct {
	vehicles level
	speed    level
	density  level
	out      int
}

// ruleTable is the full 27-combination rule base, grouped by vehicles then
// speed, with density varying low/mid/high within each group.
var ruleTable = []rule{
	// vehicles: low | speed: low
	{levelLow, levelLow, levelLow, outMild},
	{levelLow, levelLow, levelMid, outMild},
	{levelLow, levelLow, levelHigh, outSevere},
	// vehicles: low | speed: mid
	{levelLow, levelMid, levelLow, outNone},
	{levelLow, levelMid, levelMid, outMild},
	{levelLow, levelMid, levelHigh, outMild},
	// vehicles: low | speed: high
	{levelLow, levelHigh, levelLow, outNone},
	{levelLow, levelHigh, levelMid, outNone},
	{levelLow, levelHigh, levelHigh, outMild},
	// vehicles: mid | speed: low
	{levelMid, levelLow, levelLow, outMild},
	{levelMid, levelLow, levelMid, outSevere},
	{levelMid, levelLow, levelHigh, outSevere},
	// vehicles: mid | speed: mid
	{levelMid, levelMid, levelLow, outMild},
	{levelMid, levelMid, levelMid, outMild},
	{levelMid, levelMid, levelHigh, outSevere},
	// vehicles: mid | speed: high
	{levelMid, levelHigh, levelLow, outNone},
	{levelMid, levelHigh, levelMid, outMild},
	{levelMid, levelHigh, levelHigh, outMild},
	// vehicles: high | speed: low
	{levelHigh, levelLow, levelLow, outSevere},
	{levelHigh, levelLow, levelMid, outSevere},
	{levelHigh, levelLow, levelHigh, outSevere},
	// vehicles: high | speed: mid
	{levelHigh, levelMid, levelLow, outMild},
	{levelHigh, levelMid, levelMid, outSevere},
	{levelHigh, levelMid, levelHigh, outSevere},
	// vehicles: high | speed: high
	{levelHigh, levelHigh, levelLow, outMild},
	{levelHigh, levelHigh, levelMid, outMild},
	{levelHigh, levelHigh, levelHigh, outSevere},
}
