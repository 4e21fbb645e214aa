package review

import (
	"fmt"
	"strings"
)

// Summary renders the review comment for reports. ids holds the stored
// ids of each report's LibResults as returned by Store.Save; without ids
// the report file names are linked instead.
func Summary(reports []*Report, ids [][]int64, webURL, requestID string) string {
	var b strings.Builder
	for _, r := range reports {
		for _, n := range r.Notes {
			b.WriteString(n)
		}
	}
	for i, r := range reports {
		switch r.Overall {
		case Compatible:
			fmt.Fprintf(&b, "Good news from ABI check, %s seems to be ABI [compatible](%s/request/%s):\n\n", r.DstPackage, webURL, requestID)
		case Incompatible:
			fmt.Fprintf(&b, "Warning: bad news from ABI check, %s may be ABI [**INCOMPATIBLE**](%s/request/%s):\n\n", r.DstPackage, webURL, requestID)
		default:
			continue
		}
		for j, lr := range r.LibResults {
			verdict := "compatible"
			if !lr.Compatible {
				verdict = "***INCOMPATIBLE***"
			}
			link := fmt.Sprintf("%s/report/%s", webURL, lr.Report)
			if i < len(ids) && j < len(ids[i]) {
				link = fmt.Sprintf("%s/report/%d", webURL, ids[i][j])
			}
			fmt.Fprintf(&b, "* %s (%s): [%s](%s)\n", lr.DstLib, lr.Arch, verdict, link)
		}
	}
	return b.String()
}
