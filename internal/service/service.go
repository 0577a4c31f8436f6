package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/r3xsaler/Mi-tienda-pos/internal/cart"
	"github.com/r3xsaler/Mi-tienda-pos/internal/closing"
	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/events"
	"github.com/r3xsaler/Mi-tienda-pos/internal/metrics"
	"github.com/r3xsaler/Mi-tienda-pos/internal/money"
	"github.com/r3xsaler/Mi-tienda-pos/internal/pricing"
	"github.com/r3xsaler/Mi-tienda-pos/internal/report"
	"github.com/r3xsaler/Mi-tienda-pos/internal/session"
	"github.com/r3xsaler/Mi-tienda-pos/internal/settlement"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
)

var (
	ErrUnauthenticated      = errors.New("authentication required")
	ErrInvalidProduct       = fmt.Errorf("%w: invalid product", domain.ErrValidation)
	ErrInvalidRate          = fmt.Errorf("%w: daily rate must be a positive number", domain.ErrValidation)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: unknown payment method", domain.ErrValidation)
	ErrWrongUnitKind        = fmt.Errorf("%w: product is sold by a different unit", domain.ErrValidation)
	ErrProductNotFound      = fmt.Errorf("%w: product", domain.ErrNotFound)
	ErrClosingNotFound      = fmt.Errorf("%w: closing", domain.ErrNotFound)
)

const nothingToCloseMessage = "No hay ventas para cerrar"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	sessions *session.Manager
	bus      events.Bus
	settler  *settlement.Settler
	closer   *closing.Closer
	pdf      *report.PDFRenderer
	imager   *report.CartImager
	validate *validator.Validate
	log      zerolog.Logger
}

type Options struct {
	// BusinessName is printed on closing reports.
	BusinessName string
}

func New(repo store.Repository, sessions *session.Manager, bus events.Bus, logger zerolog.Logger, opts Options) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		bus:      bus,
		settler:  settlement.New(repo, logger),
		closer:   closing.New(repo, logger),
		pdf:      report.NewPDFRenderer(opts.BusinessName),
		imager:   report.NewCartImager(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.With().Str("component", "service").Logger(),
	}
}

func (s *Service) session(ctx context.Context) (*session.Session, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.OperatorID == "" {
		return nil, ErrUnauthenticated
	}
	return s.sessions.Get(ctx, actor.OperatorID)
}

// changed reloads the given slices into the session and tells the other
// replicas. The write already succeeded, so failures are only logged.
func (s *Service) changed(ctx context.Context, sess *session.Session, slices ...events.Slice) {
	if err := sess.Refresh(ctx, slices...); err != nil {
		s.log.Warn().Err(err).Str("operator_id", sess.OperatorID()).Msg("failed to refresh session after write")
	}
	if s.bus == nil {
		return
	}
	for _, slice := range slices {
		if err := s.bus.Publish(ctx, events.Change{OperatorID: sess.OperatorID(), Slice: slice}); err != nil {
			s.log.Warn().Err(err).Str("operator_id", sess.OperatorID()).Str("slice", string(slice)).Msg("failed to publish change")
		}
	}
}

// SignOut discards the operator's in-memory session, cart included.
func (s *Service) SignOut(operatorID string) {
	s.sessions.Drop(operatorID)
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidProduct, filter.Category)
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	var out []domain.Product
	_ = sess.Do(func(st *session.AppState) error {
		out = make([]domain.Product, 0, len(st.Catalog))
		for _, p := range st.Catalog {
			if filter.Category != "" && p.Category != filter.Category {
				continue
			}
			if filter.FixedOnly && !p.HasFixedPrice {
				continue
			}
			if query != "" && !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.Code), query) {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	return out, nil
}

func (s *Service) CreateProduct(ctx context.Context, in domain.ProductInput) (domain.Product, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.productFromInput(in, true)
	if err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.UpsertProduct(ctx, sess.OperatorID(), product)
	if err != nil {
		return domain.Product{}, err
	}
	s.changed(ctx, sess, events.SliceCatalog)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, in domain.ProductInput) (domain.Product, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.productFromInput(in, true)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, sess.OperatorID(), strings.TrimSpace(productID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, ErrProductNotFound
		}
		return domain.Product{}, err
	}
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt

	updated, err := s.repo.UpsertProduct(ctx, sess.OperatorID(), product)
	if err != nil {
		return domain.Product{}, err
	}
	s.changed(ctx, sess, events.SliceCatalog)
	return *updated, nil
}

func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	sess, err := s.session(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, sess.OperatorID(), strings.TrimSpace(productID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	s.changed(ctx, sess, events.SliceCatalog)
	return nil
}

// PreviewPrice prices a product form before it is saved, at the current rate.
func (s *Service) PreviewPrice(ctx context.Context, in domain.ProductInput) (pricing.Result, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return pricing.Result{}, err
	}
	product, err := s.productFromInput(in, false)
	if err != nil {
		return pricing.Result{}, err
	}

	var rate float64
	_ = sess.Do(func(st *session.AppState) error {
		rate = st.DailyRate
		return nil
	})
	return pricing.Compute(product, rate), nil
}

func (s *Service) productFromInput(in domain.ProductInput, requireStock bool) (domain.Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrInvalidProduct, describeValidation(err))
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	category := domain.Category(strings.TrimSpace(in.Category))
	if !category.Valid() {
		return domain.Product{}, fmt.Errorf("%w: unknown category %q", ErrInvalidProduct, in.Category)
	}
	kind := domain.UnitKind(in.UnitKind)
	if in.HasFixedPrice && !(in.FixedPriceLocal > 0) {
		return domain.Product{}, fmt.Errorf("%w: fixed price must be greater than zero", ErrInvalidProduct)
	}

	var stock float64
	switch {
	case in.Stock != nil:
		stock = *in.Stock
	case requireStock && kind == domain.ByUnit:
		return domain.Product{}, fmt.Errorf("%w: stock is required", ErrInvalidProduct)
	}
	if kind == domain.ByUnit {
		stock = math.Trunc(stock)
	}

	product := domain.Product{
		Name:                 name,
		Category:             category,
		UnitKind:             kind,
		AcquisitionCostLocal: *in.AcquisitionCostLocal,
		AcquisitionRate:      *in.AcquisitionRate,
		ProfitPercentMargin:  *in.ProfitPercentMargin,
		HasFixedPrice:        in.HasFixedPrice,
		Stock:                stock,
		Code:                 strings.TrimSpace(in.Code),
	}
	if in.HasFixedPrice {
		product.FixedPriceLocal = in.FixedPriceLocal
	}
	return product, nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

func (s *Service) GetDailyRate(ctx context.Context) (float64, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return 0, err
	}
	var rate float64
	_ = sess.Do(func(st *session.AppState) error {
		rate = st.DailyRate
		return nil
	})
	return rate, nil
}

// SetDailyRate accepts operator input such as "36,50". Lines already in the
// cart keep the prices they were added with.
func (s *Service) SetDailyRate(ctx context.Context, raw string) (float64, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return 0, err
	}
	rate, err := money.ParseAmount(raw)
	if err != nil || !(rate > 0) || math.IsInf(rate, 0) {
		return 0, ErrInvalidRate
	}
	if err := s.repo.SetDailyRate(ctx, sess.OperatorID(), rate); err != nil {
		return 0, err
	}
	s.changed(ctx, sess, events.SliceRate)
	return rate, nil
}

func (s *Service) CartView(ctx context.Context) (domain.CartView, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CartView{}, err
	}
	var view domain.CartView
	_ = sess.Do(func(st *session.AppState) error {
		view = cartView(st)
		return nil
	})
	return view, nil
}

func cartView(st *session.AppState) domain.CartView {
	lines := st.Cart.Lines()
	totals := st.Cart.Totals(st.DailyRate)
	view := domain.CartView{
		Lines:            make([]domain.CartLineView, 0, len(lines)),
		TotalLocal:       totals.TotalLocal,
		TotalUSD:         totals.TotalUSD,
		TotalProfitLocal: totals.TotalProfitLocal,
		DailyRate:        st.DailyRate,
		PaymentMethod:    st.PaymentMethod,
	}
	for _, l := range lines {
		view.Lines = append(view.Lines, domain.CartLineView{
			ProductID:      l.ProductID,
			Name:           l.Name,
			Category:       l.Category,
			Quantity:       l.Quantity,
			WeightGrams:    l.WeightGrams,
			WeightBased:    l.WeightBased,
			Unit:           l.Unit(),
			SalePriceLocal: l.SalePriceLocal,
			SalePriceUSD:   l.SalePriceUSD,
			ProfitLocal:    l.ProfitLocal,
			LineTotalLocal: money.Round2(l.TotalLocal()),
		})
	}
	return view
}

func findProduct(catalog []domain.Product, productID string) (domain.Product, bool) {
	for _, p := range catalog {
		if p.ID == productID {
			return p, true
		}
	}
	return domain.Product{}, false
}

func (s *Service) mutateCart(ctx context.Context, fn func(st *session.AppState) error) (domain.CartView, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CartView{}, err
	}
	var view domain.CartView
	err = sess.Do(func(st *session.AppState) error {
		if err := fn(st); err != nil {
			return err
		}
		view = cartView(st)
		return nil
	})
	return view, err
}

// AddUnitLine prices the product at the current rate and merges it into an
// existing unit line for the same product.
func (s *Service) AddUnitLine(ctx context.Context, req domain.AddUnitLineRequest) (domain.CartView, error) {
	return s.mutateCart(ctx, func(st *session.AppState) error {
		p, ok := findProduct(st.Catalog, strings.TrimSpace(req.ProductID))
		if !ok {
			return ErrProductNotFound
		}
		if p.UnitKind == domain.ByWeight {
			return ErrWrongUnitKind
		}
		return st.Cart.AddUnitLine(p, req.Quantity, st.DailyRate)
	})
}

func (s *Service) AddWeightLine(ctx context.Context, req domain.AddWeightLineRequest) (domain.CartView, error) {
	return s.mutateCart(ctx, func(st *session.AppState) error {
		p, ok := findProduct(st.Catalog, strings.TrimSpace(req.ProductID))
		if !ok {
			return ErrProductNotFound
		}
		if p.UnitKind != domain.ByWeight {
			return ErrWrongUnitKind
		}
		return st.Cart.AddWeightLine(p, req.WeightGrams, st.DailyRate)
	})
}

func (s *Service) RemoveLine(ctx context.Context, index int) (domain.CartView, error) {
	return s.mutateCart(ctx, func(st *session.AppState) error {
		return st.Cart.RemoveLine(index)
	})
}

func (s *Service) ClearCart(ctx context.Context) (domain.CartView, error) {
	return s.mutateCart(ctx, func(st *session.AppState) error {
		st.Cart.Clear()
		return nil
	})
}

// SetPaymentMethod selects the method used by the next checkout. An empty
// method clears the selection.
func (s *Service) SetPaymentMethod(ctx context.Context, method domain.PaymentMethod) (domain.CartView, error) {
	if method != "" && !method.Valid() {
		return domain.CartView{}, ErrInvalidPaymentMethod
	}
	return s.mutateCart(ctx, func(st *session.AppState) error {
		st.PaymentMethod = method
		return nil
	})
}

func (s *Service) ShareText(ctx context.Context) (string, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return "", err
	}
	var text string
	_ = sess.Do(func(st *session.AppState) error {
		text = cart.ShareText(st.Cart.Totals(st.DailyRate))
		return nil
	})
	return text, nil
}

func (s *Service) CartImage(ctx context.Context) ([]byte, error) {
	view, err := s.CartView(ctx)
	if err != nil {
		return nil, err
	}
	return s.imager.RenderCart(view)
}

// Checkout settles the cart. When the request names no method the one
// selected on the session is used.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Sale, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		return domain.Sale{}, ErrInvalidPaymentMethod
	}

	var sale domain.Sale
	err = sess.Do(func(st *session.AppState) error {
		method := req.PaymentMethod
		if method == "" {
			method = st.PaymentMethod
		}
		saved, err := s.settler.Checkout(ctx, sess.OperatorID(), st.Cart, method, st.Catalog, st.DailyRate)
		if err != nil {
			return err
		}
		st.PaymentMethod = ""
		sale = saved
		return nil
	})
	if err != nil {
		if errors.Is(err, settlement.ErrSettlementFailed) {
			metrics.SettlementFailures.Inc()
			// Some writes may have landed.
			s.changed(ctx, sess, events.SliceLedger, events.SliceCatalog)
		}
		return domain.Sale{}, err
	}

	metrics.CheckoutsTotal.WithLabelValues(string(sale.PaymentMethod)).Inc()
	metrics.CheckoutAmountLocal.Observe(sale.TotalLocal)
	s.log.Info().
		Str("operator_id", sess.OperatorID()).
		Str("sale_id", sale.ID).
		Str("payment_method", string(sale.PaymentMethod)).
		Float64("total_local", sale.TotalLocal).
		Msg("sale settled")
	s.changed(ctx, sess, events.SliceLedger, events.SliceCatalog)
	return sale, nil
}

// ListSales returns the open ledger, newest first, optionally narrowed to one
// payment method.
func (s *Service) ListSales(ctx context.Context, method domain.PaymentMethod) ([]domain.Sale, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if method != "" && !method.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	var out []domain.Sale
	_ = sess.Do(func(st *session.AppState) error {
		out = make([]domain.Sale, 0, len(st.Ledger))
		for _, sale := range st.Ledger {
			if method != "" && sale.PaymentMethod != method {
				continue
			}
			out = append(out, sale.Clone())
		}
		return nil
	})
	return out, nil
}

func (s *Service) VoidSale(ctx context.Context, saleID string) error {
	sess, err := s.session(ctx)
	if err != nil {
		return err
	}

	err = sess.Do(func(st *session.AppState) error {
		return s.settler.VoidSale(ctx, sess.OperatorID(), strings.TrimSpace(saleID), st.Ledger, st.Catalog)
	})
	switch {
	case err == nil:
		metrics.VoidsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	case errors.Is(err, domain.ErrNotFound):
		return err
	default:
		metrics.VoidsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	}
	s.changed(ctx, sess, events.SliceLedger, events.SliceCatalog)
	return err
}

// CloseDay archives the open ledger. An empty ledger is reported with
// Closed=false and no error.
func (s *Service) CloseDay(ctx context.Context) (domain.CloseDayResponse, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.CloseDayResponse{}, err
	}

	var res closing.Result
	err = sess.Do(func(st *session.AppState) error {
		var closeErr error
		res, closeErr = s.closer.CloseDay(ctx, sess.OperatorID(), st.Ledger)
		return closeErr
	})
	if !res.Closed {
		if err != nil {
			metrics.ClosingsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			return domain.CloseDayResponse{}, err
		}
		metrics.ClosingsTotal.WithLabelValues(metrics.OutcomeNoSales).Inc()
		return domain.CloseDayResponse{Closed: false, Message: nothingToCloseMessage}, nil
	}

	resp := domain.CloseDayResponse{
		Closed:  true,
		Closing: &res.Closing,
		Summary: closing.Summarize(res.Closing.Sales),
	}
	s.changed(ctx, sess, events.SliceLedger, events.SliceClosings)
	if err != nil {
		metrics.ClosingsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return resp, err
	}

	metrics.ClosingsTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	metrics.ClosedSalesTotal.Add(float64(res.Closing.SalesCount))
	s.log.Info().
		Str("operator_id", sess.OperatorID()).
		Str("closing_id", res.Closing.ID).
		Int("sales_count", res.Closing.SalesCount).
		Float64("total_local", res.Closing.TotalLocal).
		Msg("day closed")
	return resp, nil
}

func (s *Service) ListClosings(ctx context.Context) ([]domain.DailyClosing, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.DailyClosing
	_ = sess.Do(func(st *session.AppState) error {
		out = make([]domain.DailyClosing, 0, len(st.Closings))
		for _, c := range st.Closings {
			out = append(out, c.Clone())
		}
		return nil
	})
	return out, nil
}

func (s *Service) GetClosing(ctx context.Context, closingID string) (domain.ClosingDetail, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return domain.ClosingDetail{}, err
	}
	c, err := s.repo.GetClosing(ctx, sess.OperatorID(), strings.TrimSpace(closingID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ClosingDetail{}, ErrClosingNotFound
		}
		return domain.ClosingDetail{}, err
	}
	return domain.ClosingDetail{Closing: *c, Summary: closing.Summarize(c.Sales)}, nil
}

// DeleteClosing removes an archived closing for good.
func (s *Service) DeleteClosing(ctx context.Context, closingID string) error {
	sess, err := s.session(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteClosing(ctx, sess.OperatorID(), strings.TrimSpace(closingID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrClosingNotFound
		}
		return err
	}
	s.changed(ctx, sess, events.SliceClosings)
	return nil
}

// ClosingReport renders a stored closing and returns it with its file name.
func (s *Service) ClosingReport(ctx context.Context, closingID string) ([]byte, string, error) {
	detail, err := s.GetClosing(ctx, closingID)
	if err != nil {
		return nil, "", err
	}
	started := time.Now()
	doc, err := s.pdf.RenderClosing(detail.Closing, detail.Summary)
	if err != nil {
		return nil, "", err
	}
	s.log.Debug().
		Str("closing_id", detail.Closing.ID).
		Dur("elapsed", time.Since(started)).
		Int("bytes", len(doc)).
		Msg("closing report rendered")
	return doc, report.FileName(detail.Closing.CreatedAt.In(time.Local)), nil
}
