package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/YSLin901019/ntu-iot/internal/db"
)

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.db.ListProducts()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve products: %v", err))
		return
	}
	s.writeJSON(w, products)
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var p db.Product
	if err := decodeJSON(r, &p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if p.ProductID == "" || p.ProductName == "" {
		s.writeJSONError(w, http.StatusBadRequest, "product_id and product_name are required")
		return
	}
	if err := s.db.CreateProduct(&p); err != nil {
		if strings.Contains(err.Error(), "product length") {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create product: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, p)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.db.GetProduct(r.PathValue("id"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve product: %v", err))
		return
	}
	if product == nil {
		s.writeJSONError(w, http.StatusNotFound, "Product not found")
		return
	}
	s.writeJSON(w, product)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteProduct(r.PathValue("id")); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete product: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "deleted"})
}
