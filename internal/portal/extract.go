package portal

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/timmy/rerasync/internal/domain"
	"github.com/timmy/rerasync/internal/logger"
	"golang.org/x/net/html"
)

// Labels as printed on the project detail page.
const (
	labelProjectName            = "Project Name"
	labelPromoterName           = "Promoter Name"
	labelProjectType            = "Project Type"
	labelProjectSubtype         = "Project Sub Type"
	labelProjectStatus          = "Project Status"
	labelAcknowledgementNumber  = "Acknowledgement Number"
	labelRegistrationNumber     = "Registration Number"
	labelLitigation             = "Is there any Litigations on Land/Property/Khatha"
	labelDistrict               = "District"
	labelTaluk                  = "Taluk"
	labelLatitude               = "Latitude"
	labelLongitude              = "Longitude"
	labelSourceOfWater          = "Source of Water"
	labelApprovingAuthority     = "Approving Authority"
	labelTotalAreaOfLand        = "Total Area Of Land (Sq Mtr)"
	labelTotalInventories       = "Total Number of Inventories/Flats/Sites/Plots/Villas"
	labelPlanApprovalDate       = "Plan Approval Date"
	labelProjectStartDate       = "Project Start Date"
	labelProposedCompletionDate = "Proposed Completion Date"
	labelTotalProjectCost       = "Total Project Cost"
	labelCostOfLand             = "Cost of Land"
	labelEstimatedCost          = "Estimated Cost of Construction"
	labelComplaintsPromoter     = "Complaints On this Promoter"
	labelComplaintsProject      = "Complaints On this Project"
)

const (
	portalDateLayout = "02-01-2006"
	isoDateLayout    = "2006-01-02"
)

var coordinatePattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Page is a parsed project detail document.
type Page struct {
	doc      *goquery.Document
	elements []*html.Node // document order
	position map[*html.Node]int
	log      *logger.Logger
}

// ParsePage parses a detail document.
func ParsePage(ctx context.Context, body string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail page: %w", err)
	}

	elements := doc.Find("*").Nodes
	position := make(map[*html.Node]int, len(elements))
	for i, n := range elements {
		position[n] = i
	}

	return &Page{
		doc:      doc,
		elements: elements,
		position: position,
		log:      logger.FromContext(ctx),
	}, nil
}

// Field returns the value printed next to label, or nil.
//
// Two layouts are recognized, in order: a span.user_name label followed by
// a bolded value, and a p.text-right label followed by the value paragraph.
func (p *Page) Field(label string) *string {
	for _, textNode := range p.textNodesContaining(label) {
		parent := textNode.Parent
		if parent == nil || parent.Type != html.ElementNode {
			continue
		}

		var next *html.Node
		switch {
		case parent.Data == "span" && hasClass(parent, "user_name"):
			next = p.nextElement(parent, "b")
		case parent.Data == "p" && hasClass(parent, "text-right"):
			next = p.nextElement(parent, "p")
		default:
			continue
		}
		if next == nil {
			continue
		}
		if value := strings.TrimSpace(p.doc.FindNodes(next).Text()); value != "" {
			return &value
		}
	}
	return nil
}

// ComplaintCount returns the parenthesized count of the complaints link
// whose text contains label, or nil.
func (p *Page) ComplaintCount(label string) *string {
	panel := p.doc.Find("div#menu-complaints").First()
	if panel.Length() == 0 {
		p.log.WithField("label", label).Warn("Unable to locate complaints panel")
		return nil
	}

	link := panel.Find("a").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), label)
	}).First()
	if link.Length() == 0 {
		p.log.WithField("label", label).Debug("No complaints link")
		return nil
	}

	text := strings.TrimSpace(link.Text())
	parts := strings.Split(text, "(")
	count := strings.TrimSpace(strings.Trim(parts[len(parts)-1], ")"))
	return &count
}

// Record builds a ProjectRecord from every known field on the page.
// ApprovalStatus is left for the caller.
func (p *Page) Record(projectID int64) *domain.ProjectRecord {
	return &domain.ProjectRecord{
		ProjectID:                   projectID,
		ProjectName:                 p.Field(labelProjectName),
		PromoterName:                p.Field(labelPromoterName),
		ProjectType:                 p.Field(labelProjectType),
		ProjectSubtype:              p.Field(labelProjectSubtype),
		ProjectStatus:               p.Field(labelProjectStatus),
		AcknowledgementNumber:       p.Field(labelAcknowledgementNumber),
		RegistrationNumber:          p.Field(labelRegistrationNumber),
		LandUnderLitigation:         p.Field(labelLitigation),
		District:                    p.Field(labelDistrict),
		Taluk:                       p.Field(labelTaluk),
		Latitude:                    ParseCoordinate(p.Field(labelLatitude)),
		Longitude:                   ParseCoordinate(p.Field(labelLongitude)),
		SourceOfWater:               p.Field(labelSourceOfWater),
		ApprovingAuthority:          p.Field(labelApprovingAuthority),
		TotalAreaOfLand:             p.Field(labelTotalAreaOfLand),
		TotalNumberOfInventories:    p.Field(labelTotalInventories),
		PlanApprovalDate:            ReformatDate(p.Field(labelPlanApprovalDate)),
		ProjectStartDate:            ReformatDate(p.Field(labelProjectStartDate)),
		ProposedCompletionDate:      ReformatDate(p.Field(labelProposedCompletionDate)),
		TotalProjectCost:            p.Field(labelTotalProjectCost),
		CostOfLand:                  p.Field(labelCostOfLand),
		EstimatedCostOfConstruction: p.Field(labelEstimatedCost),
		ComplaintsOnPromoter:        p.parseCount(labelComplaintsPromoter),
		ComplaintsOnProject:         p.parseCount(labelComplaintsProject),
	}
}

func (p *Page) parseCount(label string) *int {
	raw := p.ComplaintCount(label)
	if raw == nil {
		return nil
	}
	n, err := strconv.Atoi(*raw)
	if err != nil {
		p.log.WithFields(logger.Fields{"label": label, "value": *raw}).Warn("Complaint count is not a number")
		return nil
	}
	return &n
}

// textNodesContaining returns text nodes whose data contains label, in
// document order.
func (p *Page) textNodesContaining(label string) []*html.Node {
	var found []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode && strings.Contains(n.Data, label) {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, root := range p.doc.Nodes {
		walk(root)
	}
	return found
}

// nextElement returns the first element named tag after n in document order.
// Descendants of n count as following it.
func (p *Page) nextElement(n *html.Node, tag string) *html.Node {
	pos, ok := p.position[n]
	if !ok {
		return nil
	}
	for _, el := range p.elements[pos+1:] {
		if el.Data == tag {
			return el
		}
	}
	return nil
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// ParseStatus reads the STATUS column of the first row of the approved
// projects table. Missing structure yields nil.
func ParseStatus(ctx context.Context, body string) *string {
	log := logger.FromContext(ctx)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		log.WithError(err).Error("Unable to parse status page")
		return nil
	}

	table := doc.Find("table#approvedTable").First()
	if table.Length() == 0 {
		log.Debug("Status page has no approved table")
		return nil
	}

	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		log.Error("Unable to locate project status field: no header row")
		return nil
	}

	statusIndex := -1
	headerRow.Find("th").EachWithBreak(func(i int, th *goquery.Selection) bool {
		if strings.ToUpper(strings.TrimSpace(th.Text())) == "STATUS" {
			statusIndex = i
			return false
		}
		return true
	})
	if statusIndex < 0 {
		log.Error("Unable to locate project status field: no STATUS column")
		return nil
	}

	var status *string
	table.Find("tbody tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() > statusIndex {
			value := strings.TrimSpace(cells.Eq(statusIndex).Text())
			status = &value
			return false
		}
		return true
	})
	return status
}

// CleanStatus canonicalizes a raw status. Absent becomes UNKNOWN; values
// starting with REJECTED, WITHDRAWN or REVOKED collapse to that prefix;
// anything else is kept verbatim.
func CleanStatus(raw *string) domain.ApprovalStatus {
	if raw == nil {
		return domain.ApprovalUnknown
	}
	for _, prefix := range []domain.ApprovalStatus{
		domain.ApprovalRejected,
		domain.ApprovalWithdrawn,
		domain.ApprovalRevoked,
	} {
		if strings.HasPrefix(*raw, string(prefix)) {
			return prefix
		}
	}
	return domain.ApprovalStatus(*raw)
}

// ReformatDate converts DD-MM-YYYY to YYYY-MM-DD. Unparsable input yields nil.
func ReformatDate(value *string) *string {
	if value == nil {
		return nil
	}
	t, err := time.Parse(portalDateLayout, strings.TrimSpace(*value))
	if err != nil {
		return nil
	}
	out := t.Format(isoDateLayout)
	return &out
}

// ParseCoordinate extracts decimal degrees from a coordinate cell.
func ParseCoordinate(value *string) *float64 {
	if value == nil {
		return nil
	}
	match := coordinatePattern.FindString(*value)
	if match == "" {
		return nil
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &f
}
